package commands

import (
	"context"
	"time"

	"pairlink/config"
	"pairlink/link"
	"pairlink/net/crpc"

	log "github.com/sirupsen/logrus"
)

// RunStatus queries a running node over RPC.
func RunStatus(ctx context.Context, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cli, err := crpc.Dial(ctx, "tcp4", cfg.Network.RPCListenAddress)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", cfg.Network.RPCListenAddress, err)
	}
	defer cli.Close()

	res := &link.StatusResponse{}
	if err := cli.Call(ctx, "Link.Status", &link.StatusRequest{}, res); err != nil {
		log.Fatalf("Link.Status failed: %v", err)
	}

	log.Infof("Local: %s, sequence: %d", res.Local, res.Sequence)
	if res.HasPeer {
		log.Infof("Peer: %s, last seen %v ago", res.Peer, res.LastSeenAgo.Truncate(time.Millisecond))
	} else {
		log.Infof("Peer: none, discovering")
	}
	if res.LastBroadcast != 0 {
		log.Infof("Last broadcast: %v ago", time.Since(time.Unix(0, res.LastBroadcast)).Truncate(time.Millisecond))
	}
	log.Infof("Sends: %d attempts, %d delivered, %d failed; receive drops: %d",
		res.Attempts, res.Delivered, res.Failed, res.RxDropped)
}
