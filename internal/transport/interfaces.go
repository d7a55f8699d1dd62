package transport

import "net"

// DefaultInterfaces returns the network interfaces suitable for mDNS
// multicast: up, multicast-capable, non-loopback, and excluding VPN and
// container bridge interfaces that would otherwise advertise the host's
// records onto networks mDNS was never meant to reach.
func DefaultInterfaces() ([]net.Interface, error) {
	allIfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	filtered := make([]net.Interface, 0, len(allIfaces))
	for _, iface := range allIfaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if isVPN(iface.Name) || isDocker(iface.Name) {
			continue
		}
		filtered = append(filtered, iface)
	}
	return filtered, nil
}

// isVPN reports whether name matches a common VPN interface naming
// pattern: utun/tun (macOS/Linux OpenVPN and generic TUN), ppp (PPTP/L2TP),
// wg/wireguard and tailscale (WireGuard-based VPNs).
func isVPN(name string) bool {
	for _, prefix := range []string{"utun", "tun", "ppp", "wg", "tailscale", "wireguard"} {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// isDocker reports whether name matches a Docker-managed interface:
// the default bridge, veth pairs, or custom bridge networks.
func isDocker(name string) bool {
	if name == "docker0" {
		return true
	}
	for _, prefix := range []string{"veth", "br-"} {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
