// Package udplink emulates a broadcast datagram radio on top of UDP multicast.
//
// Every node joins the same multicast group. A datagram carries a Frame naming the
// sender, the destination and an emulated channel; nodes drop frames that are not
// for them. Unicast frames are acknowledged by the receiver, which is what turns a
// send into a delivery report. Broadcasts are never acknowledged and always report
// success once written.
package udplink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"pairlink/hwaddr"

	"golang.org/x/net/ipv4"

	log "github.com/sirupsen/logrus"
)

const (
	MaxPayloadSize    = 250
	DefaultAckTimeout = 200 * time.Millisecond

	readBufferSize = 2048
)

var (
	ErrPeerNotFound    = errors.New("peer not registered")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrClosed          = errors.New("radio closed")
)

// PacketReader is the receiving side, typically a multicast *net.UDPConn.
type PacketReader interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	Close() error
}

// PacketWriter is the sending side, typically a *net.UDPConn dialled to the group.
type PacketWriter interface {
	Write(b []byte) (int, error)
	Close() error
}

type Options struct {
	Channel    uint8
	AckTimeout time.Duration
}

type pendingSend struct {
	dst   hwaddr.Addr
	timer *time.Timer
}

type Radio struct {
	local hwaddr.Addr
	opts  Options
	rc    PacketReader
	wc    PacketWriter

	wmu sync.Mutex // serializes writes

	mu        sync.Mutex
	peers     map[hwaddr.Addr]bool
	pending   map[uint64]*pendingSend
	seq       uint64
	onResult  func(dst hwaddr.Addr, delivered bool)
	onReceive func(src hwaddr.Addr, payload []byte)
	closed    bool
}

func New(local hwaddr.Addr, rc PacketReader, wc PacketWriter, opts Options) *Radio {
	if opts.Channel == 0 {
		opts.Channel = 1
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	return &Radio{
		local:   local,
		opts:    opts,
		rc:      rc,
		wc:      wc,
		peers:   make(map[hwaddr.Addr]bool),
		pending: make(map[uint64]*pendingSend),
	}
}

// Open joins the multicast group (e.g. "239.0.0.1:9999") on the named interface, or
// on the system default when ifname is empty.
func Open(group string, ifname string, local hwaddr.Addr, opts Options) (*Radio, error) {
	gaddr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, fmt.Errorf("resolve group %s: %w", group, err)
	}

	var iface *net.Interface
	if ifname != "" {
		iface, err = net.InterfaceByName(ifname)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", ifname, err)
		}
	}

	rc, err := net.ListenMulticastUDP("udp4", iface, gaddr)
	if err != nil {
		return nil, fmt.Errorf("join group %s: %w", group, err)
	}
	if err := rc.SetReadBuffer(readBufferSize * 32); err != nil {
		log.Warnf("udplink: failed to set read buffer: %v", err)
	}

	wc, err := net.DialUDP("udp4", nil, gaddr)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("dial group %s: %w", group, err)
	}

	// Nodes on the same host must hear each other; nothing should leave the segment.
	p4 := ipv4.NewPacketConn(wc)
	if err := p4.SetMulticastLoopback(true); err != nil {
		log.Warnf("udplink: cannot enable multicast loopback: %v", err)
	}
	if err := p4.SetMulticastTTL(1); err != nil {
		log.Warnf("udplink: cannot set multicast TTL: %v", err)
	}
	if iface != nil {
		if err := p4.SetMulticastInterface(iface); err != nil {
			rc.Close()
			wc.Close()
			return nil, fmt.Errorf("multicast interface %s: %w", ifname, err)
		}
	}

	log.Infof("udplink: %s joined %s (channel %d)", local, group, opts.Channel)
	return New(local, rc, wc, opts), nil
}

func (r *Radio) LocalAddr() hwaddr.Addr {
	return r.local
}

func (r *Radio) Register(addr hwaddr.Addr, channel uint8, encrypted bool) error {
	if channel != r.opts.Channel {
		log.Warnf("udplink: peer %s registered on channel %d, radio is on %d", addr, channel, r.opts.Channel)
	}
	if encrypted {
		log.Warnf("udplink: encryption is not supported, %s will be sent in the clear", addr)
	}

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
	r.seq++
	seq := r.seq
	if !dst.IsBroadcast() {
		r.pending[seq] = &pendingSend{
			dst:   dst,
			timer: time.AfterFunc(r.opts.AckTimeout, func() { r.complete(seq, false) }),
		}
	}
	r.mu.Unlock()

	err := r.write(&Frame{
		Kind:    KindData,
		Channel: r.opts.Channel,
		Src:     r.local,
		Dst:     dst,
		Seq:     seq,
		Payload: payload,
	})
	if err != nil {
		r.mu.Lock()
		if p, ok := r.pending[seq]; ok {
			p.timer.Stop()
			delete(r.pending, seq)
		}
		r.mu.Unlock()
		return err
	}

	if dst.IsBroadcast() {
		go r.report(dst, true)
	}
	return nil
}

func (r *Radio) write(f *Frame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	r.wmu.Lock()
	defer r.wmu.Unlock()
	_, err = r.wc.Write(data)
	return err
}

// complete resolves a pending unicast send once.
func (r *Radio) complete(seq uint64, delivered bool) {
	r.mu.Lock()
	p, ok := r.pending[seq]
	if ok {
		delete(r.pending, seq)
		p.timer.Stop()
	}
	r.mu.Unlock()
	if ok {
		r.report(p.dst, delivered)
	}
}

func (r *Radio) report(dst hwaddr.Addr, delivered bool) {
	r.mu.Lock()
	fn := r.onResult
	closed := r.closed
	r.mu.Unlock()
	if fn != nil && !closed {
		fn(dst, delivered)
	}
}

// Listen reads frames until ctx is cancelled or the radio is closed.
func (r *Radio) Listen(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		r.rc.Close()
	}()

	buf := make([]byte, readBufferSize)
	for {
		n, _, err := r.rc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) || r.isClosed() {
				return ErrClosed
			}
			log.Errorf("udplink: failed to read frame: %v", err)
			continue
		}

		f, err := DecodeFrame(buf[:n])
		if err != nil {
			log.Debugf("udplink: dropping datagram: %v", err)
			continue
		}
		r.handleFrame(f)
	}
}

func (r *Radio) handleFrame(f *Frame) {
	// multicast loopback and other channels
	if f.Src == r.local || f.Channel != r.opts.Channel {
		return
	}

	switch f.Kind {
	case KindAck:
		if f.Dst == r.local {
			r.complete(f.Seq, true)
		}
	case KindData:
		if f.Dst != r.local && !f.Dst.IsBroadcast() {
			return
		}
		if f.Dst == r.local {
			ack := &Frame{Kind: KindAck, Channel: r.opts.Channel, Src: r.local, Dst: f.Src, Seq: f.Seq}
			if err := r.write(ack); err != nil {
				log.Warnf("udplink: failed to ack %s#%d: %v", f.Src, f.Seq, err)
			}
		}

		r.mu.Lock()
		fn := r.onReceive
		r.mu.Unlock()
		if fn != nil {
			fn(f.Src, f.Payload)
		}
	}
}

func (r *Radio) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Radio) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	for seq, p := range r.pending {
		p.timer.Stop()
		delete(r.pending, seq)
	}
	r.mu.Unlock()

	rerr := r.rc.Close()
	werr := r.wc.Close()
	return errors.Join(rerr, werr)
}
