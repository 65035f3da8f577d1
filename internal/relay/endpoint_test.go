package relay

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want string
	}{
		{in: "127.0.0.1:9000", want: "127.0.0.1:9000"},
		{in: "[::1]:53", want: "[::1]:53"},
		{in: "[::ffff:10.0.0.1]:5000", want: "10.0.0.1:5000"},
		{in: "0.0.0.0:0", want: "0.0.0.0:0"},
	} {
		ep, err := ParseEndpoint(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, ep.String())
	}

	for _, in := range []string{"", "localhost:80", "127.0.0.1", "127.0.0.1:70000"} {
		_, err := ParseEndpoint(in)
		require.ErrorIs(t, err, ErrInvalidEndpoint, in)
	}
}

func TestEndpoint_EqualityIgnoresIPv4Mapping(t *testing.T) {
	a := MustParseEndpoint("127.0.0.1:9000")
	b, ok := EndpointFromUDPAddr(&net.UDPAddr{IP: net.ParseIP("::ffff:127.0.0.1"), Port: 9000})
	require.True(t, ok)
	require.Equal(t, a, b)
	require.Equal(t, a, NewEndpoint(netip.MustParseAddr("::ffff:127.0.0.1"), 9000))
}

func TestEndpoint_ZeroValueIsInvalid(t *testing.T) {
	var ep Endpoint
	require.False(t, ep.IsValid())
	require.Equal(t, "invalid:0", ep.String())

	_, ok := EndpointFromUDPAddr(nil)
	require.False(t, ok)
}

func TestEndpoint_NetworkAndWildcard(t *testing.T) {
	v4 := MustParseEndpoint("192.0.2.1:9")
	require.Equal(t, "udp4", v4.network())
	require.Equal(t, "0.0.0.0:0", v4.wildcard().String())

	v6 := MustParseEndpoint("[2001:db8::1]:9")
	require.Equal(t, "udp6", v6.network())
	require.Equal(t, "[::]:0", v6.wildcard().String())
}
