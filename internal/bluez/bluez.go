// Package bluez implements blefs.Radio on top of the BlueZ D-Bus API.
//
// The radio exports one GATT application (a service with a write and a
// notify characteristic) and one LE advertisement under AppPath, and
// watches org.bluez.Device1 objects for the peer that connects.
package bluez

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aweris/blefs"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	busName = "org.bluez"

	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	gattMgrIface    = "org.bluez.GattManager1"
	gattSvcIface    = "org.bluez.GattService1"
	gattCharIface   = "org.bluez.GattCharacteristic1"
	advMgrIface     = "org.bluez.LEAdvertisingManager1"
	advIface        = "org.bluez.LEAdvertisement1"
	propsIface      = "org.freedesktop.DBus.Properties"
	objMgrIface     = "org.freedesktop.DBus.ObjectManager"
	errNotPermitted = "org.bluez.Error.NotPermitted"
	errFailed       = "org.bluez.Error.Failed"

	// AppPath roots every object the radio exports.
	AppPath dbus.ObjectPath = "/io/blefs"

	DefaultConnectPoll = 250 * time.Millisecond
)

// Radio drives one local adapter.
type Radio struct {
	conn        *dbus.Conn
	adapter     dbus.ObjectPath
	log         *zap.Logger
	connectPoll time.Duration

	mu         sync.Mutex
	app        *application
	registered bool
	link       *link
}

type Option func(*Radio)

func WithLogger(l *zap.Logger) Option {
	return func(r *Radio) { r.log = l }
}

// WithConnectPoll sets how often Advertise looks for a connected peer.
func WithConnectPoll(d time.Duration) Option {
	return func(r *Radio) {
		if d > 0 {
			r.connectPoll = d
		}
	}
}

// Open connects to the system bus and drives the named adapter, e.g.
// "hci0".
func Open(adapter string, opts ...Option) (*Radio, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	r, err := New(conn, adapter, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return r, nil
}

// New drives adapter over an existing bus connection. It fails if BlueZ
// does not know the adapter.
func New(conn *dbus.Conn, adapter string, opts ...Option) (*Radio, error) {
	r := &Radio{
		conn:        conn,
		adapter:     AdapterPath(adapter),
		log:         zap.NewNop(),
		connectPoll: DefaultConnectPoll,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(zap.String("adapter", adapter))

	if _, err := conn.Object(busName, r.adapter).GetProperty(adapterIface + ".Address"); err != nil {
		return nil, fmt.Errorf("adapter %s: %w", adapter, err)
	}

	app, err := exportApplication(conn, r)
	if err != nil {
		return nil, fmt.Errorf("export gatt application: %w", err)
	}
	r.app = app
	return r, nil
}

// AdapterPath returns the BlueZ object path for an adapter name.
func AdapterPath(name string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + name)
}

func (r *Radio) adapterObj() dbus.BusObject {
	return r.conn.Object(busName, r.adapter)
}

// Activate powers the adapter on.
func (r *Radio) Activate(ctx context.Context) error {
	return r.setPowered(ctx, true)
}

// Deactivate drops the current link, unregisters the GATT application
// and powers the adapter off.
func (r *Radio) Deactivate(ctx context.Context) error {
	r.mu.Lock()
	r.dropLinkLocked()
	wasRegistered := r.registered
	r.registered = false
	r.mu.Unlock()

	if wasRegistered {
		err := r.adapterObj().CallWithContext(ctx, gattMgrIface+".UnregisterApplication", 0, AppPath).Err
		if err != nil {
			r.log.Debug("unregister application", zap.Error(err))
		}
	}
	return r.setPowered(ctx, false)
}

func (r *Radio) setPowered(ctx context.Context, on bool) error {
	call := r.adapterObj().CallWithContext(ctx, propsIface+".Set", 0, adapterIface, "Powered", dbus.MakeVariant(on))
	if call.Err != nil {
		return fmt.Errorf("%w: set powered=%t: %w", blefs.ErrTransport, on, call.Err)
	}
	r.log.Debug("adapter power", zap.Bool("powered", on))
	return nil
}

// ensureRegistered registers the GATT application once per power cycle.
func (r *Radio) ensureRegistered(ctx context.Context) error {
	r.mu.Lock()
	done := r.registered
	r.mu.Unlock()
	if done {
		return nil
	}

	opts := map[string]dbus.Variant{}
	if err := r.adapterObj().CallWithContext(ctx, gattMgrIface+".RegisterApplication", 0, AppPath, opts).Err; err != nil {
		return fmt.Errorf("%w: register application: %w", blefs.ErrTransport, err)
	}

	r.mu.Lock()
	r.registered = true
	r.mu.Unlock()
	return nil
}

// Close unexports everything and closes the bus connection.
func (r *Radio) Close() error {
	r.mu.Lock()
	r.dropLinkLocked()
	r.mu.Unlock()
	r.app.unexport()
	return r.conn.Close()
}
