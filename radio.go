package blefs

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// bluetoothBase is the Bluetooth SIG base UUID that 16-bit ids expand into.
var bluetoothBase = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// Default GATT layout: one service with a write and a notify characteristic.
var (
	ServiceUUID    = ShortUUID(0x1234)
	WriteCharUUID  = ShortUUID(0x6e40)
	NotifyCharUUID = ShortUUID(0x6e41)
)

// ShortUUID expands a 16-bit Bluetooth id into its 128-bit form.
func ShortUUID(short uint16) uuid.UUID {
	u := bluetoothBase
	u[2] = byte(short >> 8)
	u[3] = byte(short)
	return u
}

// AdvertiseParams configures one advertising window.
type AdvertiseParams struct {
	Name        string
	Interval    time.Duration
	Timeout     time.Duration // zero advertises until ctx is done
	ServiceUUID uuid.UUID
	Appearance  uint16
}

// Radio is the advertising side of the Bluetooth stack.
type Radio interface {
	// Advertise blocks until a peer connects, the advertising timeout
	// elapses (ErrAdvertiseTimeout) or ctx is done. Stack failures wrap
	// ErrTransport.
	Advertise(ctx context.Context, params AdvertiseParams) (Conn, error)

	// Deactivate powers the radio down, dropping any link.
	Deactivate(ctx context.Context) error

	// Activate powers the radio back up.
	Activate(ctx context.Context) error
}

// Conn is one live link to a single peer.
//
// Connected is flipped to false by the radio only; callers must not
// assume a true result survives their next blocking call.
type Conn interface {
	Peer() string
	Connected() bool

	// WaitForWrite blocks until the peer writes the write characteristic.
	WaitForWrite(ctx context.Context) ([]byte, error)

	// Notify pushes one value on the notify characteristic.
	Notify(data []byte) error
}
