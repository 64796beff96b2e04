package sandbox

import "bytes"

const truncationNotice = "\n[output truncated]"

// boundedBuffer keeps at most limit bytes and silently drops the rest so a
// chatty program cannot exhaust host memory. A non-positive limit disables
// the cap.
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

// Write always reports the full length as written so producers keep going.
func (b *boundedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.buf.Write(p)
	}

	room := b.limit - b.buf.Len()
	if room <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

// Bytes returns the captured data, with a notice appended if anything was dropped.
func (b *boundedBuffer) Bytes() []byte {
	out := bytes.Clone(b.buf.Bytes())
	if b.truncated {
		out = append(out, truncationNotice...)
	}
	return out
}

func (b *boundedBuffer) String() string {
	return string(b.Bytes())
}
