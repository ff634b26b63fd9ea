package rtshare

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEndpointPortBounds(t *testing.T) {
	for _, port := range []int{1, 1099, 65535} {
		ep, err := NewEndpoint("10.0.0.5", port)
		require.NoError(t, err)
		assert.Equal(t, port, ep.Port())
		assert.Equal(t, "10.0.0.5", ep.Host())
	}
	for _, port := range []int{0, -1, 65536, 100000} {
		_, err := NewEndpoint("10.0.0.5", port)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidPort), "port %d", port)
	}
}

func TestEndpointString(t *testing.T) {
	ep := MustEndpoint("10.0.0.5", 4444)
	assert.Equal(t, "10.0.0.5:4444", ep.String())
	assert.Equal(t, "[::1]:80", MustEndpoint("::1", 80).Addr())
	assert.False(t, Endpoint{}.IsValid())
}

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("target.local:1234", DefaultRegistryPort)
	require.NoError(t, err)
	assert.Equal(t, MustEndpoint("target.local", 1234), ep)

	ep, err = ParseEndpoint("target.local", DefaultRegistryPort)
	require.NoError(t, err)
	assert.Equal(t, 1099, ep.Port())

	_, err = ParseEndpoint("target.local:99999", DefaultRegistryPort)
	assert.ErrorIs(t, err, ErrInvalidPort)
	_, err = ParseEndpoint("target.local:abc", DefaultRegistryPort)
	assert.ErrorIs(t, err, ErrInvalidPort)
}

func TestLoadTargets(t *testing.T) {
	in := "10.1.1.1\n# comment\n\n10.1.1.2 2099\n"
	targets, err := LoadTargets(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []Endpoint{
		MustEndpoint("10.1.1.1", 1099),
		MustEndpoint("10.1.1.2", 2099),
	}, targets)

	_, err = LoadTargets(strings.NewReader("10.1.1.1 0\n"))
	assert.ErrorIs(t, err, ErrInvalidPort)
	_, err = LoadTargets(strings.NewReader("a b c\n"))
	assert.Error(t, err)
}
