package link

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pairlink/helper/timer"
	"pairlink/hwaddr"

	log "github.com/sirupsen/logrus"
)

// Scheduler is the periodic control loop. Every tick it ages out a silent peer,
// sends a heartbeat to the current peer and, on the discovery cadence, broadcasts
// the same message.
type Scheduler struct {
	local  hwaddr.Addr
	dir    *Directory
	sender *Sender
	clock  Clock
	timing Timing

	seq atomic.Uint64

	mu            sync.Mutex
	lastBroadcast time.Time
}

func NewScheduler(local hwaddr.Addr, dir *Directory, sender *Sender, clock Clock, timing Timing) *Scheduler {
	if clock == nil {
		clock = SystemClock
	}
	return &Scheduler{
		local:  local,
		dir:    dir,
		sender: sender,
		clock:  clock,
		timing: timing.withDefaults(),
	}
}

// Run ticks until ctx is cancelled. The first tick happens immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Tick(ctx); err != nil {
		return err
	}
	return timer.RunWithTicker(ctx, &timer.Interval{Duration: s.timing.Tick, Jitter: s.timing.Jitter}, s.Tick)
}

// Tick performs one scheduler step. It only returns ctx's error.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.clock.Now()

	if peer, ok := s.dir.Current(); ok && peer.Age(now) > s.timing.PeerTimeout {
		log.Infof("Peer %s timed out (last seen %v ago), removing", peer.Address, peer.Age(now).Truncate(time.Millisecond))
		s.dir.EvictIfCurrent(peer.Address, ReasonTimeout)
	}

	msg := FormatMessage(s.local, s.seq.Add(1)-1)

	if peer, ok := s.dir.Current(); ok {
		if s.sender.SendReliable(ctx, peer.Address, msg) == Delivered {
			log.Debugf("Sent %q to peer %s", msg, peer.Address)
		} else if ctx.Err() == nil {
			log.Warnf("Peer %s unreachable, removing", peer.Address)
			s.dir.EvictIfCurrent(peer.Address, ReasonUnreachable)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	_, hasPeer := s.dir.Current()
	if !hasPeer {
		log.Debugf("Peer not found yet, broadcasting discovery message")
	}
	if !hasPeer || s.broadcastDue(now) {
		if s.sender.SendReliable(ctx, hwaddr.Broadcast, msg) == Delivered {
			s.mu.Lock()
			s.lastBroadcast = s.clock.Now()
			s.mu.Unlock()
			log.Debugf("Broadcasted %q", msg)
		}
	}
	return ctx.Err()
}

func (s *Scheduler) broadcastDue(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBroadcast.IsZero() || now.Sub(s.lastBroadcast) > s.timing.DiscoveryInterval
}

// Sequence is the number of messages built so far.
func (s *Scheduler) Sequence() uint64 {
	return s.seq.Load()
}

func (s *Scheduler) LastBroadcast() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBroadcast
}
