package bluez

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/aweris/blefs"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

var errLinkClosed = errors.New("bluez: link closed")

// link is the radio side of one connection. Writes arriving over D-Bus
// queue on it until the dispatcher asks for them.
type link struct {
	writes    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newLink() *link {
	return &link{writes: make(chan []byte, 8), closed: make(chan struct{})}
}

func (l *link) close() {
	l.closeOnce.Do(func() { close(l.closed) })
}

func (l *link) push(value []byte) error {
	select {
	case <-l.closed:
		return errLinkClosed
	default:
	}
	select {
	case l.writes <- slices.Clone(value):
		return nil
	case <-l.closed:
		return errLinkClosed
	}
}

func (l *link) next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, errLinkClosed
	case b := <-l.writes:
		return b, nil
	}
}

func (r *Radio) attach(device dbus.ObjectPath, addr string) *conn {
	l := newLink()
	r.mu.Lock()
	r.dropLinkLocked()
	r.link = l
	r.mu.Unlock()

	r.log.Info("central connected", zap.String("peer", addr))
	return &conn{radio: r, link: l, device: device, addr: addr}
}

func (r *Radio) dropLinkLocked() {
	if r.link != nil {
		r.link.close()
		r.link = nil
	}
}

// deliver routes a WriteValue call to the current link.
func (r *Radio) deliver(value []byte) *dbus.Error {
	r.mu.Lock()
	l := r.link
	r.mu.Unlock()
	if l == nil {
		return dbus.NewError(errNotPermitted, []any{"no active link"})
	}
	if err := l.push(value); err != nil {
		return dbus.NewError(errFailed, []any{err.Error()})
	}
	return nil
}

// conn implements blefs.Conn for one connected device.
type conn struct {
	radio  *Radio
	link   *link
	device dbus.ObjectPath
	addr   string
}

func (c *conn) Peer() string { return c.addr }

// Connected asks BlueZ for the device's Connected property. Any lookup
// failure counts as disconnected.
func (c *conn) Connected() bool {
	select {
	case <-c.link.closed:
		return false
	default:
	}
	v, err := c.radio.conn.Object(busName, c.device).GetProperty(deviceIface + ".Connected")
	if err != nil {
		return false
	}
	connected, _ := v.Value().(bool)
	return connected
}

func (c *conn) WaitForWrite(ctx context.Context) ([]byte, error) {
	b, err := c.link.next(ctx)
	if errors.Is(err, errLinkClosed) {
		return nil, fmt.Errorf("%w: %w", blefs.ErrTransport, err)
	}
	return b, err
}

func (c *conn) Notify(data []byte) error {
	select {
	case <-c.link.closed:
		return fmt.Errorf("%w: %w", blefs.ErrTransport, errLinkClosed)
	default:
	}
	c.radio.app.setValue(slices.Clone(data))
	return nil
}
