package util

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/trim21/errgo"

	"udpfs/internal/proto"
)

// ParseAddrPort turns a user supplied host[:port] into an endpoint.
//
//	localhost, localhost:7000   loopback v4
//	10.0.0.1, ::1               default port
//	10.0.0.1:7000, [::1]:7000   as is
//	example.com[:7000]          resolved, first address wins
//	:7000                       unspecified v4, for binding
func ParseAddrPort(ctx context.Context, s string) (netip.AddrPort, error) {
	if rest, ok := strings.CutPrefix(s, "localhost"); ok {
		if rest == "" {
			return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), proto.DefaultPort), nil
		}

		if p, ok := strings.CutPrefix(rest, ":"); ok {
			port, err := parsePort(p)
			if err != nil {
				return netip.AddrPort{}, err
			}

			return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), port), nil
		}
	}

	if ip, err := netip.ParseAddr(s); err == nil {
		return netip.AddrPortFrom(ip, proto.DefaultPort), nil
	}

	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}

	host, port := s, uint16(proto.DefaultPort)
	if h, p, err := net.SplitHostPort(s); err == nil {
		host = h
		port, err = parsePort(p)
		if err != nil {
			return netip.AddrPort{}, err
		}
	}

	if host == "" {
		if s == "" {
			return netip.AddrPort{}, fmt.Errorf("missing host in address %q", s)
		}

		return netip.AddrPortFrom(netip.IPv4Unspecified(), port), nil
	}

	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.AddrPort{}, errgo.Wrap(err, fmt.Sprintf("failed to resolve %s", host))
	}

	if len(ips) == 0 {
		return netip.AddrPort{}, fmt.Errorf("no address found for %s", host)
	}

	return netip.AddrPortFrom(ips[0].Unmap(), port), nil
}

func parsePort(s string) (uint16, error) {
	port, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}

	return uint16(port), nil
}
