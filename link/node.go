package link

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"pairlink/hwaddr"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

const defaultRxQueue = 64

type Options struct {
	Timing    Timing
	Channel   uint8
	Encrypted bool
	Clock     Clock
	Observer  Observer
	OnCommand CommandHandler
	// RxQueue bounds the inbound datagrams waiting for the classifier.
	RxQueue int
}

type inbound struct {
	src     hwaddr.Addr
	payload []byte
}

// Node wires the Directory, Sender, Scheduler and Classifier to one Radio.
type Node struct {
	Local hwaddr.Addr

	Directory  *Directory
	Sender     *Sender
	Scheduler  *Scheduler
	Classifier *Classifier

	rx        chan inbound
	rxDropped atomic.Uint64
}

func NewNode(radio Radio, opts Options) (*Node, error) {
	if opts.Channel == 0 {
		opts.Channel = DefaultChannel
	}
	if opts.RxQueue <= 0 {
		opts.RxQueue = defaultRxQueue
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock
	}
	timing := opts.Timing.withDefaults()

	local := radio.LocalAddr()
	if local.IsZero() || local.IsBroadcast() {
		return nil, fmt.Errorf("invalid local address %s: %w", local, hwaddr.ErrInvalidAddr)
	}

	if err := radio.Register(hwaddr.Broadcast, opts.Channel, false); err != nil {
		return nil, fmt.Errorf("add broadcast peer: %w", err)
	}

	n := &Node{
		Local: local,
		rx:    make(chan inbound, opts.RxQueue),
	}
	n.Directory = NewDirectory(radio, opts.Channel, opts.Encrypted)
	if opts.Observer != nil {
		n.Directory.SetObserver(opts.Observer)
	}
	n.Sender = NewSender(radio, timing)
	n.Scheduler = NewScheduler(local, n.Directory, n.Sender, clock, timing)
	n.Classifier = NewClassifier(n.Directory, clock, opts.OnCommand)

	radio.OnSendResult(n.Sender.HandleSendResult)
	radio.OnReceive(n.enqueue)

	log.Infof("My hardware address: %s (suffix %s, channel %d)", local, local.Suffix(), opts.Channel)
	return n, nil
}

// enqueue is the radio's receive callback. It never blocks the radio.
func (n *Node) enqueue(src hwaddr.Addr, payload []byte) {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	select {
	case n.rx <- inbound{src: src, payload: buf}:
	default:
		n.rxDropped.Add(1)
		log.Warnf("Receive queue full, dropping datagram from %s", src)
	}
}

// Run drives the receive loop and the scheduler until ctx is cancelled. The current
// peer, if any, is evicted on the way out.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.receiveLoop(ctx) })
	g.Go(func() error { return n.Scheduler.Run(ctx) })

	err := g.Wait()
	n.Directory.Evict(ReasonShutdown)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (n *Node) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in := <-n.rx:
			n.Classifier.Handle(in.src, in.payload)
		}
	}
}

// Status is a point-in-time view of the node.
type Status struct {
	Local         hwaddr.Addr
	Peer          *PeerRecord
	Sequence      uint64
	LastBroadcast int64 // unix nanoseconds, 0 if never
	Send          SendStats
	RxDropped     uint64
}

func (n *Node) Status() Status {
	st := Status{
		Local:     n.Local,
		Sequence:  n.Scheduler.Sequence(),
		Send:      n.Sender.Stats(),
		RxDropped: n.rxDropped.Load(),
	}
	if lb := n.Scheduler.LastBroadcast(); !lb.IsZero() {
		st.LastBroadcast = lb.UnixNano()
	}
	if peer, ok := n.Directory.Current(); ok {
		st.Peer = &peer
	}
	return st
}
