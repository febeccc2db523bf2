package leveldb

import (
	"bytes"
	"time"

	"pairlink/datamodel/peer"
	"pairlink/hwaddr"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixPeer = "PEER" // Peer metadata, followed by the 6 raw address bytes
)

var _ peer.Journal = (*PeerJournal)(nil)

// Times keep their sub-second part.
var encMode, _ = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()

func keyFromAddr(addr hwaddr.Addr) []byte {
	return append([]byte(keyPrefixPeer), addr[:]...)
}

// PeerJournal records adoptions and evictions. It doubles as the link observer.
type PeerJournal struct {
	LevelDB
}

func NewPeerJournal(path string) (*PeerJournal, error) {
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	return &PeerJournal{
		LevelDB: LevelDB{
			path: path,
			db:   ldb,
		},
	}, nil
}

func (l *PeerJournal) Get(addr hwaddr.Addr) (*peer.Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(addr)
}

func (l *PeerJournal) get(addr hwaddr.Addr) (*peer.Metadata, error) {
	raw, err := l.db.Get(keyFromAddr(addr), nil)
	if err == errors.ErrNotFound {
		return nil, peer.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	md := &peer.Metadata{}
	if err := cbor.Unmarshal(raw, md); err != nil {
		return nil, err
	}

	if md.Address != addr {
		log.Errorf("Get: address mismatch: %s != %s", addr, md.Address)
		return nil, ErrCorrupted
	}

	return md, nil
}

func (l *PeerJournal) Put(md *peer.Metadata) (*peer.Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return md, l.put(md)
}

func (l *PeerJournal) put(md *peer.Metadata) error {
	raw, err := encMode.Marshal(md)
	if err != nil {
		return err
	}
	return l.db.Put(keyFromAddr(md.Address), raw, nil)
}

func (l *PeerJournal) Enumerate() ([]*peer.Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var results []*peer.Metadata

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixPeer)), nil)
	defer iter.Release()

	for iter.Next() {
		md := &peer.Metadata{}
		if err := cbor.Unmarshal(iter.Value(), md); err != nil {
			return nil, err
		}
		if !bytes.Equal(iter.Key()[len(keyPrefixPeer):], md.Address[:]) {
			return nil, ErrCorrupted
		}
		results = append(results, md)
	}

	return results, iter.Error()
}

// update applies fn to the entry for addr, creating it when missing.
func (l *PeerJournal) update(addr hwaddr.Addr, fn func(md *peer.Metadata)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	md, err := l.get(addr)
	if err == peer.ErrNotFound {
		md = &peer.Metadata{Address: addr}
	} else if err != nil {
		return err
	}
	fn(md)
	return l.put(md)
}

func (l *PeerJournal) PeerAdopted(addr hwaddr.Addr, at time.Time) {
	err := l.update(addr, func(md *peer.Metadata) {
		if md.FirstSeen.IsZero() {
			md.FirstSeen = at
		}
		if at.After(md.LastSeen) {
			md.LastSeen = at
		}
		md.Adoptions++
	})
	if err != nil {
		log.Errorf("PeerJournal: failed to record adoption of %s: %v", addr, err)
	}
}

func (l *PeerJournal) PeerEvicted(addr hwaddr.Addr, lastSeen time.Time, reason string) {
	err := l.update(addr, func(md *peer.Metadata) {
		if lastSeen.After(md.LastSeen) {
			md.LastSeen = lastSeen
		}
		md.Evictions++
		md.LastEviction = reason
		md.EvictedAt = time.Now()
	})
	if err != nil {
		log.Errorf("PeerJournal: failed to record eviction of %s: %v", addr, err)
	}
}
