package bluez

import (
	"fmt"

	"github.com/aweris/blefs"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
)

const (
	servicePath    = AppPath + "/service0"
	writeCharPath  = servicePath + "/char0"
	notifyCharPath = servicePath + "/char1"
)

// application is the exported GATT tree.
type application struct {
	conn    *dbus.Conn
	service *prop.Properties
	write   *prop.Properties
	notify  *prop.Properties
}

func serviceProps() prop.Map {
	return prop.Map{gattSvcIface: {
		"UUID":    {Value: blefs.ServiceUUID.String(), Emit: prop.EmitFalse},
		"Primary": {Value: true, Emit: prop.EmitFalse},
	}}
}

func writeCharProps() prop.Map {
	return prop.Map{gattCharIface: {
		"UUID":    {Value: blefs.WriteCharUUID.String(), Emit: prop.EmitFalse},
		"Service": {Value: servicePath, Emit: prop.EmitFalse},
		"Flags":   {Value: []string{"write", "write-without-response"}, Emit: prop.EmitFalse},
	}}
}

func notifyCharProps() prop.Map {
	return prop.Map{gattCharIface: {
		"UUID":      {Value: blefs.NotifyCharUUID.String(), Emit: prop.EmitFalse},
		"Service":   {Value: servicePath, Emit: prop.EmitFalse},
		"Flags":     {Value: []string{"read", "notify"}, Emit: prop.EmitFalse},
		"Value":     {Value: []byte{}, Emit: prop.EmitTrue},
		"Notifying": {Value: false, Emit: prop.EmitTrue},
	}}
}

func exportApplication(conn *dbus.Conn, r *Radio) (*application, error) {
	app := &application{conn: conn}

	var err error
	if app.service, err = prop.Export(conn, servicePath, serviceProps()); err != nil {
		return nil, err
	}
	if app.write, err = prop.Export(conn, writeCharPath, writeCharProps()); err != nil {
		return nil, err
	}
	if app.notify, err = prop.Export(conn, notifyCharPath, notifyCharProps()); err != nil {
		return nil, err
	}

	wc := &writeChar{radio: r}
	nc := &notifyChar{app: app}
	om := &objectManager{app: app}

	exports := []struct {
		path  dbus.ObjectPath
		iface string
		obj   any
		props *prop.Properties
	}{
		{AppPath, objMgrIface, om, nil},
		{servicePath, gattSvcIface, nil, app.service},
		{writeCharPath, gattCharIface, wc, app.write},
		{notifyCharPath, gattCharIface, nc, app.notify},
	}
	for _, e := range exports {
		if e.obj != nil {
			if err := conn.Export(e.obj, e.path, e.iface); err != nil {
				return nil, fmt.Errorf("export %s: %w", e.path, err)
			}
		}
		if err := exportIntrospection(conn, e.path, e.iface, e.obj, e.props); err != nil {
			return nil, err
		}
	}
	return app, nil
}

func exportIntrospection(conn *dbus.Conn, path dbus.ObjectPath, iface string, obj any, props *prop.Properties) error {
	ifc := introspect.Interface{Name: iface}
	if obj != nil {
		ifc.Methods = introspect.Methods(obj)
	}
	node := &introspect.Node{
		Name:       string(path),
		Interfaces: []introspect.Interface{introspect.IntrospectData, ifc},
	}
	if props != nil {
		node.Interfaces[1].Properties = props.Introspection(iface)
		node.Interfaces = append(node.Interfaces, prop.IntrospectData)
	}
	return conn.Export(introspect.NewIntrospectable(node), path, "org.freedesktop.DBus.Introspectable")
}

func (a *application) unexport() {
	for _, p := range []dbus.ObjectPath{AppPath, servicePath, writeCharPath, notifyCharPath} {
		for _, iface := range []string{objMgrIface, gattSvcIface, gattCharIface, propsIface, "org.freedesktop.DBus.Introspectable"} {
			a.conn.Export(nil, p, iface)
		}
	}
}

// setValue publishes data on the notify characteristic, emitting
// PropertiesChanged to subscribed centrals.
func (a *application) setValue(data []byte) {
	a.notify.SetMust(gattCharIface, "Value", data)
}

// managedObjects lists the tree for BlueZ's ObjectManager walk.
func (a *application) managedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	out := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant, 3)
	for path, props := range map[dbus.ObjectPath]struct {
		iface string
		p     *prop.Properties
	}{
		servicePath:    {gattSvcIface, a.service},
		writeCharPath:  {gattCharIface, a.write},
		notifyCharPath: {gattCharIface, a.notify},
	} {
		all, err := props.p.GetAll(props.iface)
		if err != nil {
			return nil, err
		}
		out[path] = map[string]map[string]dbus.Variant{props.iface: all}
	}
	return out, nil
}

type objectManager struct{ app *application }

func (o *objectManager) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	return o.app.managedObjects()
}

// writeChar receives the central's requests.
type writeChar struct{ radio *Radio }

func (c *writeChar) WriteValue(value []byte, _ map[string]dbus.Variant) *dbus.Error {
	return c.radio.deliver(value)
}

func (c *writeChar) ReadValue(_ map[string]dbus.Variant) ([]byte, *dbus.Error) {
	return nil, dbus.NewError(errNotPermitted, []any{"write only"})
}

// notifyChar carries responses back to the central.
type notifyChar struct{ app *application }

func (c *notifyChar) ReadValue(_ map[string]dbus.Variant) ([]byte, *dbus.Error) {
	v, err := c.app.notify.Get(gattCharIface, "Value")
	if err != nil {
		return nil, err
	}
	b, _ := v.Value().([]byte)
	return b, nil
}

func (c *notifyChar) StartNotify() *dbus.Error {
	c.app.notify.SetMust(gattCharIface, "Notifying", true)
	return nil
}

func (c *notifyChar) StopNotify() *dbus.Error {
	c.app.notify.SetMust(gattCharIface, "Notifying", false)
	return nil
}
