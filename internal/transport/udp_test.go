package transport_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/open62541/gomdns/internal/protocol"
	"github.com/open62541/gomdns/internal/transport"
)

func newLoopbackTransport(t *testing.T) *transport.UDPv4Transport {
	t.Helper()
	tr, err := transport.NewUDPv4Transport(nil, protocol.MulticastTTL, true)
	if err != nil {
		t.Skipf("multicast unavailable in this environment: %v", err)
	}
	return tr
}

func TestUDPv4Transport_ImplementsTransportInterface(_ *testing.T) {
	var _ transport.Transport = (*transport.UDPv4Transport)(nil)
}

func TestUDPv4Transport_Send_SendsToMulticastAddress(t *testing.T) {
	tr := newLoopbackTransport(t)
	defer func() { _ = tr.Close() }()

	ctx := context.Background()
	packet := []byte{0x00, 0x00, 0x00, 0x00}
	mdnsAddr := &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: protocol.Port}

	if err := tr.Send(ctx, packet, mdnsAddr); err != nil {
		t.Errorf("Send() failed: %v", err)
	}
}

func TestUDPv4Transport_Receive_RespectsContextCancellation(t *testing.T) {
	tr := newLoopbackTransport(t)
	defer func() { _ = tr.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, _, err := tr.Receive(ctx)
	duration := time.Since(start)

	if err == nil {
		t.Error("Receive() should return error when context is canceled")
	}
	if duration > 100*time.Millisecond {
		t.Errorf("Receive() took too long (%v) to detect cancellation", duration)
	}
}

func TestUDPv4Transport_Receive_PropagatesContextDeadline(t *testing.T) {
	tr := newLoopbackTransport(t)
	defer func() { _ = tr.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	data, addr, err := tr.Receive(ctx)
	duration := time.Since(start)

	if err == nil {
		t.Logf("got traffic (%d bytes from %v) in %v", len(data), addr, duration)
		return
	}
	if duration > 150*time.Millisecond {
		t.Errorf("Receive() took too long (%v) to time out, expected ~50ms", duration)
	}
}

func TestUDPv4Transport_Close_PropagatesErrors(t *testing.T) {
	tr := newLoopbackTransport(t)

	if err := tr.Close(); err != nil {
		t.Errorf("first Close() should succeed, got: %v", err)
	}
	if err := tr.Close(); err == nil {
		t.Error("second Close() should return an error, socket already closed")
	}
}

func TestBufferPool_GetReturns9000ByteBuffer(t *testing.T) {
	bufPtr := transport.GetBuffer()
	defer transport.PutBuffer(bufPtr)

	if len(*bufPtr) != 9000 {
		t.Errorf("GetBuffer() returned buffer of length %d, want 9000", len(*bufPtr))
	}
}

func TestBufferPool_ReusesBuffers(t *testing.T) {
	bufPtr1 := transport.GetBuffer()
	buf1 := *bufPtr1
	buf1[0] = 0xAA
	transport.PutBuffer(bufPtr1)

	bufPtr2 := transport.GetBuffer()
	defer transport.PutBuffer(bufPtr2)
	if len(*bufPtr2) != 9000 {
		t.Errorf("reused buffer has length %d, want 9000", len(*bufPtr2))
	}
}
