package commands

import (
	"context"
	"time"

	"pairlink/config"
	"pairlink/datastore/leveldb"

	log "github.com/sirupsen/logrus"
)

// RunPeers prints the peer journal. The node must not be running, LevelDB allows
// only one process to open the journal.
func RunPeers(ctx context.Context, cfg *config.Config) {
	journal, err := leveldb.NewPeerJournal(cfg.DataStore.PeerJournalPath)
	if err != nil {
		log.Fatalf("Failed to open peer journal: %v", err)
	}
	defer journal.Close()

	peers, err := journal.Enumerate()
	if err != nil {
		log.Errorf("Failed to enumerate peer journal: %v", err)
		return
	}

	log.Infof("Peer journal: %d peers known", len(peers))
	for _, p := range peers {
		log.Infof("Peer: %s, first seen: %v, last seen: %v ago, adopted: %d, evicted: %d (last: %s)",
			p.Address, p.FirstSeen.Format(time.RFC3339), time.Since(p.LastSeen).Truncate(time.Second),
			p.Adoptions, p.Evictions, p.LastEviction)
	}
}
