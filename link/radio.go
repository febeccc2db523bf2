package link

import (
	"time"

	"pairlink/hwaddr"
)

// Radio is the platform datagram service the protocol runs on.
//
// Send either rejects a datagram synchronously or accepts it and later reports the
// delivery status through the OnSendResult callback. Inbound datagrams are reported
// through the OnReceive callback. A unicast Send requires the destination to be
// registered first; the broadcast address is registered once at startup.
type Radio interface {
	LocalAddr() hwaddr.Addr
	Send(dst hwaddr.Addr, payload []byte) error
	Register(addr hwaddr.Addr, channel uint8, encrypted bool) error
	Deregister(addr hwaddr.Addr) error
	OnSendResult(fn func(dst hwaddr.Addr, delivered bool))
	OnReceive(fn func(src hwaddr.Addr, payload []byte))
}

// Clock is the monotonic time source used for last-seen stamps and cadence checks.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads time.Now, which carries a monotonic reading.
var SystemClock Clock = systemClock{}
