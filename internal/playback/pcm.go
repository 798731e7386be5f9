package playback

import "sync"

// pcmBuffer is a bounded FIFO of interleaved little-endian int16 samples
// between the decoder and the device callback. Writes past capacity discard
// the oldest audio; reads past the end are padded with silence.
type pcmBuffer struct {
	mu   sync.Mutex
	data []byte
	max  int
}

func newPCMBuffer(max int) *pcmBuffer {
	return &pcmBuffer{max: max}
}

func (b *pcmBuffer) write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	if over := len(b.data) - b.max; over > 0 {
		// Keep whole samples.
		over += over % 2
		b.data = append(b.data[:0], b.data[over:]...)
	}
}

func (b *pcmBuffer) read(out []byte) int {
	b.mu.Lock()
	n := copy(out, b.data)
	b.data = b.data[n:]
	b.mu.Unlock()

	clear(out[n:])
	return n
}

func (b *pcmBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

func (b *pcmBuffer) reset() {
	b.mu.Lock()
	b.data = nil
	b.mu.Unlock()
}

func int16sToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
