package link

import (
	"errors"
	"sync"
	"time"

	"pairlink/hwaddr"
)

var errQueueFull = errors.New("queue full")

type action int

const (
	deliver action = iota
	fail
	reject
	silent
	confirmOther
)

type sentFrame struct {
	dst     hwaddr.Addr
	payload string
	at      time.Time
}

// fakeRadio records every call and answers sends from a script. Confirmations are
// reported synchronously from Send.
type fakeRadio struct {
	local hwaddr.Addr

	mu          sync.Mutex
	registered  map[hwaddr.Addr]bool
	ops         []string
	maxLive     int
	sent        []sentFrame
	script      func(dst hwaddr.Addr, attempt int) action
	attempts    map[hwaddr.Addr]int
	registerErr error
	onResult    func(dst hwaddr.Addr, delivered bool)
	onReceive   func(src hwaddr.Addr, payload []byte)
}

func newFakeRadio(local hwaddr.Addr) *fakeRadio {
	return &fakeRadio{
		local:      local,
		registered: make(map[hwaddr.Addr]bool),
		attempts:   make(map[hwaddr.Addr]int),
	}
}

func (r *fakeRadio) LocalAddr() hwaddr.Addr { return r.local }

func (r *fakeRadio) Register(addr hwaddr.Addr, channel uint8, encrypted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registerErr != nil {
		return r.registerErr
	}
	r.registered[addr] = true
	r.ops = append(r.ops, "register "+addr.String())

	live := 0
	for a := range r.registered {
		if !a.IsBroadcast() {
			live++
		}
	}
	if live > r.maxLive {
		r.maxLive = live
	}
	return nil
}

func (r *fakeRadio) Deregister(addr hwaddr.Addr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "deregister "+addr.String())
	if !r.registered[addr] {
		return errors.New("not registered")
	}
	delete(r.registered, addr)
	return nil
}

func (r *fakeRadio) OnSendResult(fn func(dst hwaddr.Addr, delivered bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onResult = fn
}

func (r *fakeRadio) OnReceive(fn func(src hwaddr.Addr, payload []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReceive = fn
}

func (r *fakeRadio) Send(dst hwaddr.Addr, payload []byte) error {
	r.mu.Lock()
	r.attempts[dst]++
	attempt := r.attempts[dst]
	r.sent = append(r.sent, sentFrame{dst: dst, payload: string(payload), at: time.Now()})
	act := deliver
	if r.script != nil {
		act = r.script(dst, attempt)
	}
	fn := r.onResult
	r.mu.Unlock()

	switch act {
	case reject:
		return errQueueFull
	case silent:
	case confirmOther:
		if fn != nil {
			fn(hwaddr.Addr{0x02, 0, 0, 0, 0, 0x99}, true)
		}
	default:
		if fn != nil {
			fn(dst, act == deliver)
		}
	}
	return nil
}

func (r *fakeRadio) setScript(fn func(dst hwaddr.Addr, attempt int) action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.script = fn
}

func (r *fakeRadio) sentTo(dst hwaddr.Addr) []sentFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentFrame
	for _, f := range r.sent {
		if f.dst == dst {
			out = append(out, f)
		}
	}
	return out
}

func (r *fakeRadio) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.ops {
		if o == op {
			n++
		}
	}
	return n
}

func (r *fakeRadio) opLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type observedEvent struct {
	addr   hwaddr.Addr
	kind   string
	reason string
}

type fakeObserver struct {
	mu     sync.Mutex
	events []observedEvent
}

func (o *fakeObserver) PeerAdopted(addr hwaddr.Addr, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, observedEvent{addr: addr, kind: "adopted"})
}

func (o *fakeObserver) PeerEvicted(addr hwaddr.Addr, lastSeen time.Time, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, observedEvent{addr: addr, kind: "evicted", reason: reason})
}

func (o *fakeObserver) snapshot() []observedEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]observedEvent(nil), o.events...)
}

var (
	localAddr = hwaddr.MustParse("02:00:00:00:ab:cd")
	peerA     = hwaddr.MustParse("02:00:00:00:00:0a")
	peerB     = hwaddr.MustParse("02:00:00:00:00:0b")
)

func fastTiming() Timing {
	return Timing{
		Tick:              time.Second,
		PeerTimeout:       DefaultPeerTimeout,
		DiscoveryInterval: DefaultDiscoveryInterval,
		MaxAttempts:       DefaultMaxAttempts,
		ConfirmTimeout:    20 * time.Millisecond,
		Backoff:           time.Millisecond,
	}
}

func (r *fakeRadio) Peers() []hwaddr.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]hwaddr.Addr, 0, len(r.registered))
	for a := range r.registered {
		out = append(out, a)
	}
	return out
}
