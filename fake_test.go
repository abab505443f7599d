package blefs

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aweris/blefs/internal/store"
	"github.com/stretchr/testify/require"
)

var errLinkDown = errors.New("fake: link down")

// events is an ordered, concurrency-safe log of what the fakes observed.
type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(ev string) {
	e.mu.Lock()
	e.list = append(e.list, ev)
	e.mu.Unlock()
}

func (e *events) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.list)
}

func (e *events) count(ev string) int {
	n := 0
	for _, got := range e.snapshot() {
		if got == ev {
			n++
		}
	}
	return n
}

func (e *events) index(ev string) int {
	return slices.Index(e.snapshot(), ev)
}

func (e *events) waitFor(t *testing.T, ev string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return e.count(ev) >= n },
		2*time.Second, 5*time.Millisecond, "waiting for %d x %q, got %v", n, ev, e.snapshot())
}

// fakeConn is a scripted peer link.
type fakeConn struct {
	peer      string
	writes    chan []byte
	notifies  chan []byte
	connected atomic.Bool
	gone      chan struct{}
	goneOnce  sync.Once
	events    *events
}

func newFakeConn(ev *events) *fakeConn {
	c := &fakeConn{
		peer:     "AA:BB:CC:DD:EE:FF",
		writes:   make(chan []byte),
		notifies: make(chan []byte, 16),
		gone:     make(chan struct{}),
		events:   ev,
	}
	c.connected.Store(true)
	return c
}

func (c *fakeConn) Peer() string    { return c.peer }
func (c *fakeConn) Connected() bool { return c.connected.Load() }

func (c *fakeConn) WaitForWrite(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.gone:
		return nil, errLinkDown
	case b := <-c.writes:
		return b, nil
	}
}

func (c *fakeConn) Notify(data []byte) error {
	if !c.Connected() {
		return errLinkDown
	}
	c.events.add("notify")
	c.notifies <- slices.Clone(data)
	return nil
}

func (c *fakeConn) disconnect() {
	c.goneOnce.Do(func() {
		c.connected.Store(false)
		close(c.gone)
	})
}

// send writes one frame as the peer would.
func (c *fakeConn) send(t *testing.T, frame []byte) {
	t.Helper()
	select {
	case c.writes <- frame:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatcher did not accept frame %x", frame)
	}
}

// request sends r and returns the single notification it produced.
func (c *fakeConn) request(t *testing.T, r Request) []byte {
	t.Helper()
	frame, err := r.MarshalBinary()
	require.NoError(t, err)
	return c.exchange(t, frame)
}

func (c *fakeConn) exchange(t *testing.T, frame []byte) []byte {
	t.Helper()
	c.send(t, frame)
	select {
	case b := <-c.notifies:
		return b
	case <-time.After(2 * time.Second):
		t.Fatalf("no response to frame %x", frame)
		return nil
	}
}

// fakeRadio hands out queued connections or failures.
type fakeRadio struct {
	conns    chan Conn
	failures chan error
	events   *events
}

func newFakeRadio(ev *events) *fakeRadio {
	return &fakeRadio{
		conns:    make(chan Conn, 4),
		failures: make(chan error, 4),
		events:   ev,
	}
}

func (r *fakeRadio) Advertise(ctx context.Context, params AdvertiseParams) (Conn, error) {
	r.events.add("advertise")
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case c := <-r.conns:
		return c, nil
	case err := <-r.failures:
		return nil, err
	}
}

func (r *fakeRadio) Deactivate(ctx context.Context) error {
	r.events.add("deactivate")
	return nil
}

func (r *fakeRadio) Activate(ctx context.Context) error {
	r.events.add("activate")
	return nil
}

// blockingStore parks WriteFile until released.
type blockingStore struct {
	*store.LocalStore

	honorCtx bool
	entered  chan struct{}
	release  chan struct{}
	once     sync.Once
	events   *events
}

func newBlockingStore(t *testing.T, ev *events, honorCtx bool) *blockingStore {
	return &blockingStore{
		LocalStore: newLocalStore(t),
		honorCtx:   honorCtx,
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
		events:     ev,
	}
}

func (s *blockingStore) WriteFile(ctx context.Context, name string, data []byte) error {
	s.once.Do(func() { close(s.entered) })
	if s.honorCtx {
		select {
		case <-ctx.Done():
			s.events.add("write-cancelled")
			return ctx.Err()
		case <-s.release:
		}
	} else {
		<-s.release
	}
	return s.LocalStore.WriteFile(ctx, name, data)
}

// failingStore fails every write.
type failingStore struct {
	*store.LocalStore
}

func (failingStore) WriteFile(context.Context, string, []byte) error {
	return errors.New("disk full")
}

// panickingStore panics on List.
type panickingStore struct {
	*store.LocalStore
}

func (panickingStore) List(context.Context) ([]Entry, error) {
	panic("corrupted directory")
}

func newLocalStore(t *testing.T) *store.LocalStore {
	t.Helper()
	s, err := store.NewLocalStore(t.TempDir(), 8)
	require.NoError(t, err)
	return s
}
