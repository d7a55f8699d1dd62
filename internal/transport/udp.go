package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/net/ipv4"

	"github.com/open62541/gomdns/internal/errors"
	"github.com/open62541/gomdns/internal/protocol"
)

// UDPv4Transport is a UDP socket bound to the mDNS multicast group on a
// single interface, with platform socket options applied so the process
// can coexist with Avahi, systemd-resolved, or Bonjour on the same port.
type UDPv4Transport struct {
	conn   net.PacketConn
	pconn  *ipv4.PacketConn
	iface  *net.Interface
	dstUDP *net.UDPAddr
}

// NewUDPv4Transport binds a UDP socket on iface to the mDNS port and
// joins the mDNS multicast group (RFC 6762 §3: 224.0.0.251:5353).
// ttl controls the outbound multicast TTL; loopback controls whether the
// host receives its own multicast transmissions back (useful for tests,
// normally disabled in production).
func NewUDPv4Transport(iface *net.Interface, ttl int, loopback bool) (*UDPv4Transport, error) {
	dstUDP, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(protocol.MulticastAddrIPv4, strconv.Itoa(protocol.Port)))
	if err != nil {
		return nil, &errors.NetworkError{
			Operation: "resolve multicast address",
			Err:       err,
			Details:   fmt.Sprintf("failed to resolve %s:%d", protocol.MulticastAddrIPv4, protocol.Port),
		}
	}

	lc := net.ListenConfig{Control: PlatformControl}
	rawConn, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort("", strconv.Itoa(protocol.Port)))
	if err != nil {
		return nil, &errors.NetworkError{
			Operation: "create socket",
			Err:       err,
			Details:   fmt.Sprintf("failed to bind UDP port %d", protocol.Port),
		}
	}

	pconn := ipv4.NewPacketConn(rawConn)
	if err := pconn.JoinGroup(iface, dstUDP); err != nil {
		_ = rawConn.Close()
		return nil, &errors.NetworkError{
			Operation: "join multicast group",
			Err:       err,
			Details:   fmt.Sprintf("failed to join %s on %s", protocol.MulticastAddrIPv4, ifaceName(iface)),
		}
	}
	if err := pconn.SetMulticastTTL(ttl); err != nil {
		_ = rawConn.Close()
		return nil, &errors.NetworkError{Operation: "set multicast TTL", Err: err}
	}
	if err := pconn.SetMulticastLoopback(loopback); err != nil {
		_ = rawConn.Close()
		return nil, &errors.NetworkError{Operation: "set multicast loopback", Err: err}
	}
	if iface != nil {
		if err := pconn.SetMulticastInterface(iface); err != nil {
			_ = rawConn.Close()
			return nil, &errors.NetworkError{Operation: "set multicast interface", Err: err}
		}
	}

	return &UDPv4Transport{conn: rawConn, pconn: pconn, iface: iface, dstUDP: dstUDP}, nil
}

func ifaceName(iface *net.Interface) string {
	if iface == nil {
		return "default"
	}
	return iface.Name
}

// Send transmits packet to dest, ordinarily the mDNS multicast group but
// a unicast address when legacy-unicast replies are in play (RFC 6762 §6.7).
func (t *UDPv4Transport) Send(ctx context.Context, packet []byte, dest net.Addr) error {
	select {
	case <-ctx.Done():
		return &errors.NetworkError{Operation: "send query", Err: ctx.Err(), Details: "context canceled before send"}
	default:
	}

	n, err := t.conn.WriteTo(packet, dest)
	if err != nil {
		return &errors.NetworkError{
			Operation: "send query",
			Err:       err,
			Details:   fmt.Sprintf("failed to send %d bytes to %s", len(packet), dest),
		}
	}
	if n != len(packet) {
		return &errors.NetworkError{
			Operation: "send query",
			Err:       fmt.Errorf("partial write: %d/%d bytes", n, len(packet)),
			Details:   "incomplete transmission",
		}
	}
	return nil
}

// Receive waits for an incoming packet, respecting ctx's deadline and
// cancellation.
func (t *UDPv4Transport) Receive(ctx context.Context) ([]byte, net.Addr, error) {
	select {
	case <-ctx.Done():
		return nil, nil, &errors.NetworkError{Operation: "receive response", Err: ctx.Err(), Details: "context canceled before receive"}
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return nil, nil, &errors.NetworkError{Operation: "set read timeout", Err: err, Details: fmt.Sprintf("failed to set deadline %v", deadline)}
		}
	}

	bufPtr := GetBuffer()
	defer PutBuffer(bufPtr)
	buffer := *bufPtr

	n, srcAddr, err := t.conn.ReadFrom(buffer)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, nil, &errors.NetworkError{Operation: "receive response", Err: err, Details: "timeout"}
		}
		return nil, nil, &errors.NetworkError{Operation: "receive response", Err: err, Details: "failed to read from socket"}
	}

	result := make([]byte, n)
	copy(result, buffer[:n])
	return result, srcAddr, nil
}

// MulticastAddr returns the resolved mDNS multicast destination address.
func (t *UDPv4Transport) MulticastAddr() net.Addr {
	return t.dstUDP
}

// Close leaves the multicast group and releases the socket.
func (t *UDPv4Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	_ = t.pconn.LeaveGroup(t.iface, t.dstUDP)
	if err := t.conn.Close(); err != nil {
		return &errors.NetworkError{Operation: "close socket", Err: err, Details: "failed to close UDP connection"}
	}
	return nil
}

var _ Transport = (*UDPv4Transport)(nil)
