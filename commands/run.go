package commands

import (
	"context"
	"errors"
	"net"

	"pairlink/config"
	"pairlink/datastore/leveldb"
	"pairlink/hwaddr"
	"pairlink/link"
	"pairlink/net/crpc"
	"pairlink/net/udplink"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

func RunServe(ctx context.Context, cfg *config.Config) {
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	journal, err := leveldb.NewPeerJournal(cfg.DataStore.PeerJournalPath)
	if err != nil {
		log.Fatalf("Failed to open peer journal: %v", err)
	}
	defer journal.Close()

	radio, err := udplink.Open(cfg.Link.MulticastGroup, cfg.Link.Interface, cfg.Node.Address, udplink.Options{
		Channel:    cfg.Link.Channel,
		AckTimeout: cfg.LinkAckTimeout(),
	})
	if err != nil {
		log.Fatalf("Failed to open radio: %v", err)
	}
	defer radio.Close()

	node, err := link.NewNode(radio, link.Options{
		Timing:    cfg.LinkTiming(),
		Channel:   cfg.Link.Channel,
		Encrypted: cfg.Link.Encrypted,
		Observer:  journal,
		OnCommand: func(src hwaddr.Addr, cmd string) {
			log.Infof("Command %q from %s has no handler", cmd, src)
		},
	})
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}

	rpcl, err := net.Listen("tcp4", cfg.Network.RPCListenAddress)
	if err != nil {
		log.Fatalf("Failed to create RPC listener: %v", err)
	}
	rsrv := crpc.NewServer(rpcl)
	if err := rsrv.RegisterName("Link", link.NewStatusService(node, nil)); err != nil {
		log.Fatalf("Failed to register status service: %v", err)
	}
	log.Infof("RPC server listening on %s", rsrv.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return radio.Listen(ctx) })
	g.Go(func() error { return rsrv.Serve(ctx) })
	g.Go(func() error { return node.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Node stopped: %v", err)
	}
	log.Infof("Node stopped")
}
