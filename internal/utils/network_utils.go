package utils

import (
	"net"
	"strings"
)

// Interface is the part of a network interface the relay heuristic looks at.
type Interface struct {
	Name  string
	Up    bool
	Loop  bool
	Addrs []net.IP
}

// cgnat covers Cloudflare WARP, Tailscale and carrier grade NAT.
var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

var tunnelPrefixes = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

// ShouldForceRelay checks if the system is likely behind a restrictive VPN or CGNAT
// and returns true if calls should go through TURN.
func ShouldForceRelay() bool {
	ok, _ := RelayHint(localInterfaces())
	return ok
}

// RelayHint returns true and the offending interface name when any active
// interface looks like a tunnel or carries a CGNAT address.
func RelayHint(ifaces []Interface) (bool, string) {
	for _, iface := range ifaces {
		if !iface.Up || iface.Loop {
			continue
		}

		name := strings.ToLower(iface.Name)
		for _, p := range tunnelPrefixes {
			if strings.Contains(name, p) {
				return true, iface.Name
			}
		}

		for _, ip := range iface.Addrs {
			if cgnat.Contains(ip) {
				return true, iface.Name
			}
		}
	}
	return false, ""
}

func localInterfaces() []Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		entry := Interface{
			Name: iface.Name,
			Up:   iface.Flags&net.FlagUp != 0,
			Loop: iface.Flags&net.FlagLoopback != 0,
		}
		addrs, err := iface.Addrs()
		if err == nil {
			for _, addr := range addrs {
				switch v := addr.(type) {
				case *net.IPNet:
					entry.Addrs = append(entry.Addrs, v.IP)
				case *net.IPAddr:
					entry.Addrs = append(entry.Addrs, v.IP)
				}
			}
		}
		out = append(out, entry)
	}
	return out
}
