// Package link implements single-peer discovery and keep-alive over an unreliable,
// broadcast-capable datagram radio.
//
// A Node owns four cooperating parts: the Directory holding at most one peer, the
// Sender turning fire-and-forget transmissions into confirmed deliveries, the
// Scheduler driving heartbeats, discovery broadcasts and timeout eviction, and the
// Classifier updating the Directory from inbound datagrams.
package link

import (
	"errors"
	"time"
)

const (
	// MaxPayloadSize is the largest datagram a radio is expected to carry.
	MaxPayloadSize = 250

	DefaultChannel = 1

	DefaultTick              = 1000 * time.Millisecond
	DefaultPeerTimeout       = 10000 * time.Millisecond
	DefaultDiscoveryInterval = 5000 * time.Millisecond
	DefaultMaxAttempts       = 5
	DefaultConfirmTimeout    = 1000 * time.Millisecond
	DefaultBackoff           = 50 * time.Millisecond
)

var (
	ErrBroadcastPeer   = errors.New("broadcast address cannot be a peer")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum datagram size")
)

// Outcome is the result of a reliable send.
type Outcome int

const (
	Failed Outcome = iota
	Delivered
)

func (o Outcome) String() string {
	if o == Delivered {
		return "Delivered"
	}
	return "Failed"
}

// Timing groups every interval the protocol runs on.
type Timing struct {
	Tick              time.Duration
	Jitter            time.Duration
	PeerTimeout       time.Duration
	DiscoveryInterval time.Duration
	MaxAttempts       int
	ConfirmTimeout    time.Duration
	Backoff           time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		Tick:              DefaultTick,
		PeerTimeout:       DefaultPeerTimeout,
		DiscoveryInterval: DefaultDiscoveryInterval,
		MaxAttempts:       DefaultMaxAttempts,
		ConfirmTimeout:    DefaultConfirmTimeout,
		Backoff:           DefaultBackoff,
	}
}

// withDefaults fills zero fields so a partially populated Timing is usable.
func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.Tick <= 0 {
		t.Tick = d.Tick
	}
	if t.PeerTimeout <= 0 {
		t.PeerTimeout = d.PeerTimeout
	}
	if t.DiscoveryInterval <= 0 {
		t.DiscoveryInterval = d.DiscoveryInterval
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = d.MaxAttempts
	}
	if t.ConfirmTimeout <= 0 {
		t.ConfirmTimeout = d.ConfirmTimeout
	}
	if t.Backoff < 0 {
		t.Backoff = 0
	}
	if t.Jitter < 0 || t.Jitter >= t.Tick {
		t.Jitter = 0
	}
	return t
}
