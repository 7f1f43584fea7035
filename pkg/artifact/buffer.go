package artifact

import "sync/atomic"

// OwnedBuffer holds bytes produced by an artifact together with the release
// operation the producer supplied. The bytes stay valid until Release; the
// release runs at most once.
type OwnedBuffer struct {
	data     []byte
	release  func()
	released atomic.Bool
}

// NewOwnedBuffer wraps data and the function that returns it to its producer.
func NewOwnedBuffer(data []byte, release func()) *OwnedBuffer {
	return &OwnedBuffer{data: data, release: release}
}

// Bytes returns the buffer contents, or nil once released.
func (b *OwnedBuffer) Bytes() []byte {
	if b.released.Load() {
		return nil
	}
	return b.data
}

func (b *OwnedBuffer) Len() int {
	return len(b.Bytes())
}

// CopyAndRelease copies the contents out and releases the buffer.
func (b *OwnedBuffer) CopyAndRelease() []byte {
	data := b.Bytes()
	out := make([]byte, len(data))
	copy(out, data)
	b.Release()
	return out
}

// Release hands the buffer back to its producer. It reports whether this call
// performed the release.
func (b *OwnedBuffer) Release() bool {
	if !b.released.CompareAndSwap(false, true) {
		return false
	}
	if b.release != nil {
		b.release()
	}
	return true
}

// Released reports whether Release has run.
func (b *OwnedBuffer) Released() bool {
	return b.released.Load()
}
