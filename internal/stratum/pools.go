package stratum

import (
	"bytes"
	"sync"
)

// encodeBufferPool reuses buffers for request encoding. Submits and
// keepalives are encoded on every share and every tick.
var encodeBufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 256))
	},
}

func getBuffer() *bytes.Buffer {
	buf := encodeBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	// oversized buffers are left to the GC
	if buf.Cap() <= 64*1024 {
		encodeBufferPool.Put(buf)
	}
}
