// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import "strings"

// Endpoints are the realm's OpenID Connect endpoints. They're derived from the
// realm URL and never discovered.
type Endpoints struct {
	Authorize string
	Token     string
	Logout    string
	Register  string
	UserInfo  string
	Account   string
}

// Endpoints returns the realm's endpoints.
func (c *Config) Endpoints() Endpoints {
	return endpointsFor(c.RealmURL())
}

func endpointsFor(realmURL string) Endpoints {
	base := strings.TrimRight(realmURL, "/")
	oidcBase := base + "/protocol/openid-connect"
	return Endpoints{
		Authorize: oidcBase + "/auth",
		Token:     oidcBase + "/token",
		Logout:    oidcBase + "/logout",
		Register:  oidcBase + "/registrations",
		UserInfo:  oidcBase + "/userinfo",
		Account:   base + "/account",
	}
}
