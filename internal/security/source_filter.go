package security

import "net"

// SourceFilter validates that a datagram's source IP is within mDNS's
// link-local scope per RFC 6762 §2: link-local (169.254.0.0/16) or the
// same subnet as the receiving interface. Interface addresses are
// cached at construction to avoid a syscall per packet.
type SourceFilter struct {
	iface      net.Interface
	ifaceAddrs []net.IPNet
}

// NewSourceFilter builds a filter for datagrams arriving on iface. If
// the interface's addresses cannot be read, the filter falls back to
// the link-local-only check.
func NewSourceFilter(iface net.Interface) (*SourceFilter, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return &SourceFilter{iface: iface}, nil
	}

	var ipnets []net.IPNet
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok {
			ipnets = append(ipnets, *ipnet)
		}
	}
	return &SourceFilter{iface: iface, ifaceAddrs: ipnets}, nil
}

// IsValid reports whether srcIP is link-local scope per RFC 6762 §2.
// IPv6 is rejected: the wire codec and the rest of the engine handle
// IPv4 only.
func (sf *SourceFilter) IsValid(srcIP net.IP) bool {
	ip4 := srcIP.To4()
	if ip4 == nil {
		return false
	}

	if ip4[0] == 169 && ip4[1] == 254 {
		return true
	}

	for _, ipnet := range sf.ifaceAddrs {
		if ipnet.Contains(srcIP) {
			return true
		}
	}
	return false
}
