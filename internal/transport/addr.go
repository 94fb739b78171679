// File: internal/transport/addr.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"fmt"
	"net/netip"

	"github.com/momentics/hioload-pipe/api"
)

// MaxPort is the largest valid TCP port.
const MaxPort = 65535

// ParseListenAddr resolves host and port into a bindable address. An empty host
// binds all IPv4 interfaces; "localhost" maps to the IPv4 loopback. Port 0 asks the
// kernel for an ephemeral port.
func ParseListenAddr(host string, port int) (netip.AddrPort, error) {
	if port < 0 || port > MaxPort {
		return netip.AddrPort{}, fmt.Errorf("port %d out of range: %w", port, api.ErrInvalidArgument)
	}
	var addr netip.Addr
	switch host {
	case "":
		addr = netip.IPv4Unspecified()
	case "localhost":
		addr = netip.AddrFrom4([4]byte{127, 0, 0, 1})
	default:
		var err error
		if addr, err = netip.ParseAddr(host); err != nil {
			return netip.AddrPort{}, fmt.Errorf("host %q: %w", host, api.ErrInvalidArgument)
		}
	}
	return netip.AddrPortFrom(addr.Unmap(), uint16(port)), nil
}
