// Package memlink is an in-process radio medium for tests and simulations. Radios
// attached to the same Medium and channel hear each other's broadcasts; unicast
// datagrams reach their destination and are confirmed unless either end is cut off.
package memlink

import (
	"errors"
	"sync"

	"pairlink/hwaddr"

	log "github.com/sirupsen/logrus"
)

const MaxPayloadSize = 250

var (
	ErrAddrInUse       = errors.New("address already attached")
	ErrPeerNotFound    = errors.New("peer not registered")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrClosed          = errors.New("radio closed")
)

type Medium struct {
	mu          sync.Mutex
	radios      map[hwaddr.Addr]*Radio
	unreachable map[hwaddr.Addr]bool
}

func NewMedium() *Medium {
	return &Medium{
		radios:      make(map[hwaddr.Addr]*Radio),
		unreachable: make(map[hwaddr.Addr]bool),
	}
}

// Attach creates a radio with the given address tuned to channel.
func (m *Medium) Attach(addr hwaddr.Addr, channel uint8) (*Radio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.radios[addr]; ok {
		return nil, ErrAddrInUse
	}
	r := &Radio{
		medium:  m,
		addr:    addr,
		channel: channel,
		peers:   make(map[hwaddr.Addr]bool),
	}
	m.radios[addr] = r
	return r, nil
}

// SetReachable cuts a radio off from the medium, or reconnects it. A cut radio
// neither sends nor receives, but its unicast sends still get a failure report.
func (m *Medium) SetReachable(addr hwaddr.Addr, reachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reachable {
		delete(m.unreachable, addr)
	} else {
		m.unreachable[addr] = true
	}
}

func (m *Medium) detach(addr hwaddr.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.radios, addr)
}

// route returns the radios that should hear a datagram from src to dst.
func (m *Medium) route(src *Radio, dst hwaddr.Addr) []*Radio {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable[src.addr] {
		return nil
	}

	var out []*Radio
	for addr, r := range m.radios {
		if addr == src.addr || r.channel != src.channel || m.unreachable[addr] {
			continue
		}
		if dst.IsBroadcast() || dst == addr {
			out = append(out, r)
		}
	}
	return out
}

// Radio is one endpoint on a Medium.
type Radio struct {
	medium  *Medium
	addr    hwaddr.Addr
	channel uint8

	mu        sync.Mutex
	peers     map[hwaddr.Addr]bool
	onResult  func(dst hwaddr.Addr, delivered bool)
	onReceive func(src hwaddr.Addr, payload []byte)
	closed    bool
}

func (r *Radio) LocalAddr() hwaddr.Addr {
	return r.addr
}

func (r *Radio) Register(addr hwaddr.Addr, channel uint8, encrypted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.peers[addr] = true
	return nil
}

func (r *Radio) Deregister(addr hwaddr.Addr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.peers[addr] {
		return ErrPeerNotFound
	}
	delete(r.peers, addr)
	return nil
}

// Peers lists the registered addresses.
func (r *Radio) Peers() []hwaddr.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]hwaddr.Addr, 0, len(r.peers))
	for a := range r.peers {
		out = append(out, a)
	}
	return out
}

func (r *Radio) OnSendResult(fn func(dst hwaddr.Addr, delivered bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onResult = fn
}

func (r *Radio) OnReceive(fn func(src hwaddr.Addr, payload []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReceive = fn
}

// Send queues payload for delivery. The outcome is reported asynchronously.
func (r *Radio) Send(dst hwaddr.Addr, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if !r.peers[dst] {
		r.mu.Unlock()
		return ErrPeerNotFound
	}
	r.mu.Unlock()

	buf := make([]byte, len(payload))
	copy(buf, payload)
	go r.transmit(dst, buf)
	return nil
}

func (r *Radio) transmit(dst hwaddr.Addr, payload []byte) {
	receivers := r.medium.route(r, dst)
	for _, rcv := range receivers {
		rcv.receive(r.addr, payload)
	}

	// broadcasts are never acknowledged, so they always report success
	delivered := dst.IsBroadcast() || len(receivers) > 0
	r.mu.Lock()
	fn := r.onResult
	closed := r.closed
	r.mu.Unlock()
	if fn != nil && !closed {
		fn(dst, delivered)
	}
}

func (r *Radio) receive(src hwaddr.Addr, payload []byte) {
	r.mu.Lock()
	fn := r.onReceive
	closed := r.closed
	r.mu.Unlock()
	if fn == nil || closed {
		log.Debugf("memlink: %s dropped datagram from %s", r.addr, src)
		return
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	fn(src, buf)
}

// Close detaches the radio from its medium.
func (r *Radio) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	r.mu.Unlock()
	r.medium.detach(r.addr)
	return nil
}
