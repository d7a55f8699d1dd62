package transport

import "sync"

// bufferPool recycles the 9000-byte receive buffers used by
// UDPv4Transport.Receive, avoiding an allocation on every datagram.
var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 9000)
		return &buf
	},
}

// GetBuffer returns a pointer to a 9000-byte buffer from the pool.
// Callers must return it with PutBuffer, typically via defer.
func GetBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// PutBuffer returns a buffer to the pool. The caller must not use the
// buffer again afterward.
func PutBuffer(bufPtr *[]byte) {
	buf := *bufPtr
	for i := range buf {
		buf[i] = 0
	}
	bufferPool.Put(bufPtr)
}
