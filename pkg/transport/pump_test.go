package transport

import (
	"bytes"
	"io"
	"testing"
	"time"
)

// fakeRWC is an in-memory ReadWriteCloser: reads drain a fixed buffer, then
// return io.EOF; writes accumulate into a separate buffer a test can
// inspect.
type fakeRWC struct {
	in     *bytes.Reader
	out    bytes.Buffer
	closed bool
}

func newFakeRWC(in []byte) *fakeRWC {
	return &fakeRWC{in: bytes.NewReader(in)}
}

func (f *fakeRWC) Read(p []byte) (int, error) { return f.in.Read(p) }
func (f *fakeRWC) Write(p []byte) (int, error) {
	if f.closed {
		return 0, io.ErrClosedPipe
	}
	return f.out.Write(p)
}
func (f *fakeRWC) Close() error { f.closed = true; return nil }

func waitConnected(t *testing.T, p *pump, want bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.isConnected() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("isConnected() never became %v", want)
}

func TestPeekDoesNotConsume(t *testing.T) {
	rwc := newFakeRWC([]byte{0x03, 'X'})
	p := newPump(rwc)

	b, ok := p.peek()
	if !ok || b != 0x03 {
		t.Fatalf("peek() = (0x%x, %v), want (0x03, true)", b, ok)
	}
	b, ok = p.peek()
	if !ok || b != 0x03 {
		t.Fatalf("second peek() = (0x%x, %v), want (0x03, true) again", b, ok)
	}
	b, ok = p.get()
	if !ok || b != 0x03 {
		t.Fatalf("get() after peek = (0x%x, %v), want (0x03, true)", b, ok)
	}
	b, ok = p.get()
	if !ok || b != 'X' {
		t.Fatalf("get() second byte = (0x%x, %v), want ('X', true)", b, ok)
	}
}

func TestPutWritesThrough(t *testing.T) {
	rwc := newFakeRWC(nil)
	p := newPump(rwc)

	if err := p.put('O'); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := p.put('K'); err != nil {
		t.Fatalf("put: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for rwc.out.Len() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := rwc.out.String(); got != "OK" {
		t.Errorf("written bytes = %q, want %q", got, "OK")
	}
}

func TestDisconnectObservedAfterReadEOF(t *testing.T) {
	rwc := newFakeRWC([]byte{'a'})
	p := newPump(rwc)

	if b, ok := p.get(); !ok || b != 'a' {
		t.Fatalf("get() = (0x%x, %v), want ('a', true)", b, ok)
	}
	if _, ok := p.get(); ok {
		t.Error("get() after EOF should report disconnect, not a byte")
	}
	waitConnected(t, p, false)
}
