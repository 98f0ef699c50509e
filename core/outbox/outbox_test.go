package outbox

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vlm-project/vlmcore/infra/logger"
)

type fakeSender struct {
	mu        sync.Mutex
	connected bool
	failNext  int
	sent      [][]byte
}

func (f *fakeSender) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSender) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return fmt.Errorf("send failed")
	}
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakeSender) setConnected(c bool) {
	f.mu.Lock()
	f.connected = c
	f.mu.Unlock()
}

func (f *fakeSender) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not reached")
}

func TestFIFOWhileConnected(t *testing.T) {
	s := &fakeSender{connected: true}
	o := New(s, time.Millisecond, logger.NopLogger{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	for i := 0; i < 5; i++ {
		o.Enqueue([]byte{byte(i)})
	}
	waitFor(t, func() bool { return len(s.sentFrames()) == 5 })
	for i, f := range s.sentFrames() {
		if f[0] != byte(i) {
			t.Fatalf("frame %d out of order: %v", i, f)
		}
	}
	if o.Depth() != 0 {
		t.Fatalf("queue not drained: depth %d", o.Depth())
	}
}

func TestPendingSurvivesDisconnect(t *testing.T) {
	s := &fakeSender{connected: false}
	o := New(s, time.Millisecond, logger.NopLogger{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	o.Enqueue([]byte("a"))
	o.Enqueue([]byte("b"))
	time.Sleep(20 * time.Millisecond)
	if got := len(s.sentFrames()); got != 0 {
		t.Fatalf("sent %d frames while disconnected", got)
	}
	if o.Depth() != 2 {
		t.Fatalf("expected 2 pending, got %d", o.Depth())
	}

	s.setConnected(true)
	waitFor(t, func() bool { return len(s.sentFrames()) == 2 })
	if o.Depth() != 0 {
		t.Fatalf("expected drained queue, got depth %d", o.Depth())
	}
}

func TestFailedFrameRetriedAtTail(t *testing.T) {
	s := &fakeSender{connected: true, failNext: 1}
	o := New(s, time.Millisecond, logger.NopLogger{}, nil)
	o.Enqueue([]byte("first"))
	o.Enqueue([]byte("second"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)
	waitFor(t, func() bool { return len(s.sentFrames()) == 2 })

	frames := s.sentFrames()
	if string(frames[0]) != "second" || string(frames[1]) != "first" {
		t.Fatalf("expected retried frame behind newer enqueue, got %q %q", frames[0], frames[1])
	}
}

func TestEnqueueNeverBlocks(t *testing.T) {
	s := &fakeSender{connected: false}
	o := New(s, time.Second, logger.NopLogger{}, nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			o.Enqueue([]byte("x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("enqueue blocked")
	}
	if o.Depth() != 1000 {
		t.Fatalf("expected 1000 pending, got %d", o.Depth())
	}
}
