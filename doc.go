// Package blefs serves a small content-addressed file protocol to a single
// Bluetooth LE central over a write/notify characteristic pair.
//
// A Peripheral advertises, accepts one peer, decodes each write into a
// Request, runs the matching handler against a Store and answers with at
// most one notification. When the peer goes away the peripheral cancels
// the in-flight request, resets the radio and advertises again, forever.
//
// Basic usage:
//
//	st, _ := blefs.NewLocalStore("/var/lib/blefs", 16)
//
//	p := blefs.New(radio, st, // any Radio; `blefs serve` drives BlueZ
//		blefs.WithAdvertiseName("pico2w_ble"),
//		blefs.WithLogger(log),
//	)
//	err := p.Run(ctx) // returns only when ctx is done
//
// Wire format of every write: one opcode byte followed by the payload.
//
//	0 echo      arbitrary bytes                    -> same bytes
//	1 upload    hash(16) size(4, BE) content       -> ACK:OK | ERR:<reason>
//	2 delete    hash(16) size(4, BE)               -> ACK:DELETED | ERR:<reason>
//	3 list      (empty)                            -> name,size;name,size
//	4 download  file name                          -> raw content
//
// Files are stored under the lowercase hex encoding of their hash.
package blefs
