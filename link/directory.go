package link

import (
	"fmt"
	"sync"
	"time"

	"pairlink/hwaddr"

	log "github.com/sirupsen/logrus"
)

// EvictReason says why a peer left the Directory.
type EvictReason string

const (
	ReasonTimeout     EvictReason = "timeout"
	ReasonUnreachable EvictReason = "unreachable"
	ReasonSuperseded  EvictReason = "superseded"
	ReasonShutdown    EvictReason = "shutdown"
)

// PeerRecord is the single active peer.
type PeerRecord struct {
	Address  hwaddr.Addr
	LastSeen time.Time
}

func (p PeerRecord) Age(now time.Time) time.Duration {
	return now.Sub(p.LastSeen)
}

// Observer is notified after the Directory adopts or evicts a peer.
// Calls happen outside the Directory lock.
type Observer interface {
	PeerAdopted(addr hwaddr.Addr, at time.Time)
	PeerEvicted(addr hwaddr.Addr, lastSeen time.Time, reason string)
}

// Directory holds at most one PeerRecord and keeps the radio's peer registration in
// step with it: a non-broadcast registration exists if and only if a record does.
type Directory struct {
	radio     Radio
	channel   uint8
	encrypted bool

	mu       sync.Mutex
	peer     *PeerRecord
	observer Observer
}

func NewDirectory(radio Radio, channel uint8, encrypted bool) *Directory {
	return &Directory{
		radio:     radio,
		channel:   channel,
		encrypted: encrypted,
	}
}

func (d *Directory) SetObserver(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = o
}

func (d *Directory) Current() (PeerRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.peer == nil {
		return PeerRecord{}, false
	}
	return *d.peer, true
}

// Adopt makes addr the active peer. A different active peer is deregistered and
// discarded first. Adopting the current peer again only refreshes LastSeen.
func (d *Directory) Adopt(addr hwaddr.Addr, now time.Time) error {
	if addr.IsBroadcast() {
		return ErrBroadcastPeer
	}

	d.mu.Lock()
	if d.peer != nil && d.peer.Address == addr {
		d.refreshLocked(now)
		d.mu.Unlock()
		return nil
	}

	var superseded *PeerRecord
	if d.peer != nil {
		old := *d.peer
		d.evictLocked()
		superseded = &old
	}

	if err := d.radio.Register(addr, d.channel, d.encrypted); err != nil {
		observer := d.observer
		d.mu.Unlock()
		if superseded != nil && observer != nil {
			observer.PeerEvicted(superseded.Address, superseded.LastSeen, string(ReasonSuperseded))
		}
		return fmt.Errorf("register peer %s: %w", addr, err)
	}
	d.peer = &PeerRecord{Address: addr, LastSeen: now}
	observer := d.observer
	d.mu.Unlock()

	if superseded != nil {
		log.Infof("Peer %s superseded by %s", superseded.Address, addr)
		if observer != nil {
			observer.PeerEvicted(superseded.Address, superseded.LastSeen, string(ReasonSuperseded))
		}
	}
	log.Infof("Peer found: %s", addr)
	if observer != nil {
		observer.PeerAdopted(addr, now)
	}
	return nil
}

// Touch refreshes LastSeen of the current peer. It reports false when addr is not
// the current peer, in which case nothing changes.
func (d *Directory) Touch(addr hwaddr.Addr, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.peer == nil || d.peer.Address != addr {
		return false
	}
	d.refreshLocked(now)
	return true
}

// Evict drops the current peer, if any. It is idempotent.
func (d *Directory) Evict(reason EvictReason) bool {
	d.mu.Lock()
	if d.peer == nil {
		d.mu.Unlock()
		return false
	}
	return d.evictAndNotify(reason)
}

// EvictIfCurrent evicts only when addr is still the active peer, so a late failure
// against a peer that has since been replaced changes nothing.
func (d *Directory) EvictIfCurrent(addr hwaddr.Addr, reason EvictReason) bool {
	d.mu.Lock()
	if d.peer == nil || d.peer.Address != addr {
		d.mu.Unlock()
		return false
	}
	return d.evictAndNotify(reason)
}

// evictAndNotify is entered with d.mu held and releases it.
func (d *Directory) evictAndNotify(reason EvictReason) bool {
	old := *d.peer
	d.evictLocked()
	observer := d.observer
	d.mu.Unlock()

	log.Infof("Peer %s evicted (%s)", old.Address, reason)
	if observer != nil {
		observer.PeerEvicted(old.Address, old.LastSeen, string(reason))
	}
	return true
}

func (d *Directory) evictLocked() {
	addr := d.peer.Address
	d.peer = nil
	if err := d.radio.Deregister(addr); err != nil {
		log.Warnf("Directory: failed to deregister %s: %v", addr, err)
	}
}

func (d *Directory) refreshLocked(now time.Time) {
	if now.After(d.peer.LastSeen) {
		d.peer.LastSeen = now
	}
}
