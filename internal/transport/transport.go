// Package transport is the host-facing UDP multicast transport the engine
// runs on. It owns the socket, multicast group membership, and the
// wall-clock-bound Send/Receive calls; the engine package never touches
// a net.Conn directly and stays deterministic.
package transport

import (
	"context"
	"net"
)

// Transport sends and receives raw mDNS packets. UDPv4Transport is the
// production implementation; MockTransport is a recording test double.
type Transport interface {
	Send(ctx context.Context, packet []byte, dest net.Addr) error
	Receive(ctx context.Context) ([]byte, net.Addr, error)
	Close() error
}
