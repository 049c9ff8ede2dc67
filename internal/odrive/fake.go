package odrive

import (
	"strings"
	"sync"
	"time"
)

// FakeTransport is a test double for the controller link. Writes are
// recorded line by line; each written command can trigger scripted reply
// bytes. Reads with nothing queued sleep for the read timeout and return
// zero bytes, like a real port.
type FakeTransport struct {
	mu sync.Mutex

	// Writes holds every command line written, without terminator.
	Writes []string

	// WriteError, if set, is returned by Write.
	WriteError error

	// ResetCalls counts ResetInputBuffer calls.
	ResetCalls int

	// Closed tracks if Close was called.
	Closed bool

	replies     map[string][]string
	rx          []byte
	pending     []byte
	readTimeout time.Duration
}

// NewFakeTransport returns an empty FakeTransport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{replies: make(map[string][]string)}
}

// Reply scripts reply lines for cmd. Each matching write consumes the next
// line; the last one repeats.
func (f *FakeTransport) Reply(cmd string, lines ...string) {
	raw := make([]string, len(lines))
	for i, l := range lines {
		raw[i] = l + "\n"
	}
	f.ReplyRaw(cmd, raw...)
}

// ReplyRaw is Reply without the terminator added, for partial or garbled
// replies.
func (f *FakeTransport) ReplyRaw(cmd string, raw ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[cmd] = raw
}

// Inject queues bytes for reading as if the controller sent them unasked.
func (f *FakeTransport) Inject(b string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rx = append(f.rx, b...)
}

// Write records complete lines and queues scripted replies.
func (f *FakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.WriteError != nil {
		return 0, f.WriteError
	}

	f.pending = append(f.pending, p...)
	for {
		i := strings.IndexByte(string(f.pending), '\n')
		if i < 0 {
			break
		}
		cmd := string(f.pending[:i])
		f.pending = f.pending[i+1:]
		f.Writes = append(f.Writes, cmd)

		if script := f.replies[cmd]; len(script) > 0 {
			f.rx = append(f.rx, script[0]...)
			if len(script) > 1 {
				f.replies[cmd] = script[1:]
			}
		}
	}
	return len(p), nil
}

// Read returns queued bytes, or waits out the read timeout and returns none.
func (f *FakeTransport) Read(p []byte) (int, error) {
	f.mu.Lock()
	if len(f.rx) > 0 {
		n := copy(p, f.rx)
		f.rx = f.rx[n:]
		f.mu.Unlock()
		return n, nil
	}
	wait := f.readTimeout
	f.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}
	return 0, nil
}

// SetReadTimeout sets how long an empty Read waits.
func (f *FakeTransport) SetReadTimeout(t time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readTimeout = t
	return nil
}

// ResetInputBuffer drops queued bytes.
func (f *FakeTransport) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rx = nil
	f.ResetCalls++
	return nil
}

// Close marks the transport closed.
func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Sent returns a copy of the recorded command lines.
func (f *FakeTransport) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Writes...)
}

// Reset clears recorded writes and queued input.
func (f *FakeTransport) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Writes = nil
	f.rx = nil
	f.pending = nil
	f.ResetCalls = 0
}
