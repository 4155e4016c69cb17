// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"errors"
	"io"
	"regexp"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

var uuidV4 = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

func TestNewRandomReader(t *testing.T) {
	t.Parallel()
	t.Run("source", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		src := bytes.NewReader([]byte{1, 2, 3, 4})
		r := NewRandomReader(src, nil)
		buf := make([]byte, 4)
		n, err := r.Read(buf)
		require.NoError(err)
		assert.Equal(4, n)
		assert.Equal([]byte{1, 2, 3, 4}, buf)
	})
	t.Run("fallback", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		var logs bytes.Buffer
		logger := hclog.New(&hclog.LoggerOptions{Output: &logs, Level: hclog.Warn})
		r := NewRandomReader(failingReader{}, logger)
		for i := 0; i < 3; i++ {
			buf := make([]byte, 32)
			n, err := r.Read(buf)
			require.NoError(err)
			assert.Equal(32, n)
		}
		assert.Equal(1, strings.Count(logs.String(), "falling back to an insecure generator"))
	})
	t.Run("default", func(t *testing.T) {
		r := NewRandomReader(nil, nil)
		buf := make([]byte, 16)
		_, err := io.ReadFull(r, buf)
		require.NoError(t, err)
		assert.NotEqual(t, make([]byte, 16), buf)
	})
}

func TestRandomString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		r         io.Reader
		n         int
		alphabet  string
		want      string
		wantIsErr error
	}{
		{"modulo", bytes.NewReader([]byte{0, 1, 2, 3, 4}), 5, "abc", "abcab", nil},
		{"nil-reader", nil, 5, "abc", "", ErrNilParameter},
		{"zero-length", bytes.NewReader([]byte{0}), 0, "abc", "", ErrInvalidParameter},
		{"empty-alphabet", bytes.NewReader([]byte{0}), 1, "", "", ErrInvalidParameter},
		{"short-read", bytes.NewReader([]byte{0}), 2, "abc", "", ErrIDGeneratorFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := RandomString(tt.r, tt.n, tt.alphabet)
			if tt.wantIsErr != nil {
				require.ErrorIs(err, tt.wantIsErr)
				assert.Empty(got)
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
}

func TestNewUUID(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	id, err := NewUUID(NewRandomReader(nil, nil))
	require.NoError(err)
	assert.Regexp(uuidV4, id)

	id2, err := NewUUID(NewRandomReader(failingReader{}, hclog.NewNullLogger()))
	require.NoError(err)
	assert.Regexp(uuidV4, id2)
	assert.NotEqual(id, id2)

	_, err = NewUUID(nil)
	require.ErrorIs(err, ErrNilParameter)

	_, err = NewUUID(bytes.NewReader([]byte{1}))
	require.ErrorIs(err, ErrIDGeneratorFailed)
}
