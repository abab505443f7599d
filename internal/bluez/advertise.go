package bluez

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/aweris/blefs"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
	"go.uber.org/zap"
)

const advertPath = AppPath + "/advertisement0"

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// advertisement is the exported LEAdvertisement1 object.
type advertisement struct {
	released chan struct{}
}

// Release is called by BlueZ when it drops the advertisement.
func (a *advertisement) Release() *dbus.Error {
	select {
	case <-a.released:
	default:
		close(a.released)
	}
	return nil
}

func advertisementProps(p blefs.AdvertiseParams) prop.Map {
	props := map[string]*prop.Prop{
		"Type":         {Value: "peripheral"},
		"ServiceUUIDs": {Value: []string{p.ServiceUUID.String()}},
		"LocalName":    {Value: p.Name},
		"Appearance":   {Value: p.Appearance},
		"Discoverable": {Value: true},
	}
	if p.Interval > 0 {
		ms := uint32(p.Interval / time.Millisecond)
		props["MinInterval"] = &prop.Prop{Value: ms}
		props["MaxInterval"] = &prop.Prop{Value: ms}
	}
	if secs := advertiseSeconds(p.Timeout); secs > 0 {
		props["Timeout"] = &prop.Prop{Value: secs}
	}
	for _, v := range props {
		v.Emit = prop.EmitFalse
	}
	return prop.Map{advIface: props}
}

// advertiseSeconds converts a window to BlueZ's uint16 seconds, rounding
// up so short windows are not dropped to "forever".
func advertiseSeconds(d time.Duration) uint16 {
	if d <= 0 {
		return 0
	}
	secs := (d + time.Second - 1) / time.Second
	if secs > 0xffff {
		return 0xffff
	}
	return uint16(secs)
}

func (r *Radio) startAdvertising(ctx context.Context, p blefs.AdvertiseParams) (*advertisement, error) {
	adv := &advertisement{released: make(chan struct{})}

	props, err := prop.Export(r.conn, advertPath, advertisementProps(p))
	if err != nil {
		return nil, fmt.Errorf("%w: export advertisement: %w", blefs.ErrTransport, err)
	}
	if err := r.conn.Export(adv, advertPath, advIface); err != nil {
		return nil, fmt.Errorf("%w: export advertisement: %w", blefs.ErrTransport, err)
	}
	if err := exportIntrospection(r.conn, advertPath, advIface, adv, props); err != nil {
		return nil, fmt.Errorf("%w: export advertisement: %w", blefs.ErrTransport, err)
	}

	opts := map[string]dbus.Variant{}
	if err := r.adapterObj().CallWithContext(ctx, advMgrIface+".RegisterAdvertisement", 0, advertPath, opts).Err; err != nil {
		r.unexportAdvertisement()
		return nil, fmt.Errorf("%w: register advertisement: %w", blefs.ErrTransport, err)
	}
	return adv, nil
}

// stopAdvertising runs on every exit from Advertise. It must not use the
// caller's context, which may already be done.
func (r *Radio) stopAdvertising(adv *advertisement) {
	select {
	case <-adv.released:
	default:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := r.adapterObj().CallWithContext(ctx, advMgrIface+".UnregisterAdvertisement", 0, advertPath).Err
		cancel()
		if err != nil {
			r.log.Debug("unregister advertisement", zap.Error(err))
		}
	}
	r.unexportAdvertisement()
}

func (r *Radio) unexportAdvertisement() {
	for _, iface := range []string{advIface, propsIface, "org.freedesktop.DBus.Introspectable"} {
		r.conn.Export(nil, advertPath, iface)
	}
}

// Advertise registers the GATT application and an advertisement, then
// polls BlueZ until a new device connects.
func (r *Radio) Advertise(ctx context.Context, p blefs.AdvertiseParams) (blefs.Conn, error) {
	r.mu.Lock()
	r.dropLinkLocked()
	r.mu.Unlock()

	if err := r.ensureRegistered(ctx); err != nil {
		return nil, err
	}

	before, err := r.connectedDevices(ctx)
	if err != nil {
		return nil, err
	}

	adv, err := r.startAdvertising(ctx, p)
	if err != nil {
		return nil, err
	}
	defer r.stopAdvertising(adv)

	var window <-chan time.Time
	if p.Timeout > 0 {
		t := time.NewTimer(p.Timeout)
		defer t.Stop()
		window = t.C
	}
	ticker := time.NewTicker(r.connectPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-window:
			return nil, fmt.Errorf("%w after %s", blefs.ErrAdvertiseTimeout, p.Timeout)
		case <-adv.released:
			return nil, fmt.Errorf("%w: advertisement released by bluez", blefs.ErrTransport)
		case <-ticker.C:
			now, err := r.connectedDevices(ctx)
			if err != nil {
				return nil, err
			}
			path, ok := newlyConnected(before, now)
			if !ok {
				// Forget devices that went away so a reconnect counts.
				maps.DeleteFunc(before, func(dev dbus.ObjectPath, _ string) bool {
					_, still := now[dev]
					return !still
				})
				continue
			}
			return r.attach(path, now[path]), nil
		}
	}
}

// connectedDevices maps the object path of every connected device on the
// adapter to its address.
func (r *Radio) connectedDevices(ctx context.Context) (map[dbus.ObjectPath]string, error) {
	var objects managedObjects
	call := r.conn.Object(busName, "/").CallWithContext(ctx, objMgrIface+".GetManagedObjects", 0)
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("%w: list bluez objects: %w", blefs.ErrTransport, err)
	}
	return connectedUnder(objects, r.adapter), nil
}

func connectedUnder(objects managedObjects, adapter dbus.ObjectPath) map[dbus.ObjectPath]string {
	out := make(map[dbus.ObjectPath]string)
	prefix := string(adapter) + "/dev_"
	for path, ifaces := range objects {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		dev, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		if connected, _ := dev["Connected"].Value().(bool); !connected {
			continue
		}
		addr, _ := dev["Address"].Value().(string)
		if addr == "" {
			addr = addressFromPath(path)
		}
		out[path] = addr
	}
	return out
}

// newlyConnected picks a device connected now that was not before. Ties
// go to the lowest path so the choice is stable.
func newlyConnected(before, now map[dbus.ObjectPath]string) (dbus.ObjectPath, bool) {
	var best dbus.ObjectPath
	for p := range now {
		if _, old := before[p]; old {
			continue
		}
		if best == "" || p < best {
			best = p
		}
	}
	return best, best != ""
}

// addressFromPath turns .../dev_AA_BB_CC_DD_EE_FF into AA:BB:CC:DD:EE:FF.
func addressFromPath(path dbus.ObjectPath) string {
	s := string(path)
	i := strings.LastIndex(s, "/dev_")
	if i < 0 {
		return ""
	}
	return strings.ReplaceAll(s[i+len("/dev_"):], "_", ":")
}
