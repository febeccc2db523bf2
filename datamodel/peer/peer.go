package peer

import (
	"errors"
	"time"

	"pairlink/hwaddr"
)

var ErrNotFound = errors.New("peer not found")

// Metadata is the journal entry kept for every address that was ever adopted.
type Metadata struct {
	Address      hwaddr.Addr `cbor:"1,keyasint"`           // Hardware address of the peer
	FirstSeen    time.Time   `cbor:"2,keyasint,omitempty"` // First adoption
	LastSeen     time.Time   `cbor:"3,keyasint,omitempty"` // Last activity we know of
	Adoptions    uint64      `cbor:"4,keyasint,omitempty"`
	Evictions    uint64      `cbor:"5,keyasint,omitempty"`
	LastEviction string      `cbor:"6,keyasint,omitempty"` // Reason of the last eviction
	EvictedAt    time.Time   `cbor:"7,keyasint,omitempty"`
}

// Journal stores peer Metadata keyed by hardware address.
type Journal interface {
	// Get returns ErrNotFound when the address was never recorded.
	Get(addr hwaddr.Addr) (*Metadata, error)

	// Put stores or replaces the entry for md.Address.
	Put(md *Metadata) (*Metadata, error)

	// Enumerate returns every entry ordered by address.
	Enumerate() ([]*Metadata, error)
}
