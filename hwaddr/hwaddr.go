package hwaddr

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"
)

// Len is the size of a link-layer hardware address in bytes.
const Len = 6

var ErrInvalidAddr = errors.New("invalid hardware address")

// Addr is a 6-byte link-layer address. It is comparable and can be used as a map key.
// Addr implements the MarshalBinary and UnmarshalBinary interfaces so CBOR stores it as a byte string.
type Addr [Len]byte

// Broadcast is the all-ones sentinel used for discovery. It is never adopted as a peer.
var Broadcast = Addr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

func (a Addr) IsBroadcast() bool {
	return a == Broadcast
}

func (a Addr) IsZero() bool {
	return a == Addr{}
}

// Suffix returns the last two bytes as upper-case hex, the short identity used in outbound messages.
func (a Addr) Suffix() string {
	return fmt.Sprintf("%02X%02X", a[4], a[5])
}

func (a Addr) MarshalBinary() ([]byte, error) {
	return a[:], nil
}

func (a *Addr) UnmarshalBinary(data []byte) error {
	if len(data) != Len {
		return ErrInvalidAddr
	}
	copy(a[:], data)
	return nil
}

func (a Addr) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Addr) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	addr, err := Parse(s)
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// Parse accepts the usual colon or dash separated notations.
func Parse(s string) (Addr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddr, s)
	}
	return FromHardwareAddr(hw)
}

func MustParse(s string) Addr {
	a, err := Parse(s)
	if err != nil {
		log.Fatalf("Failed to parse hardware address: %v", err)
	}
	return a
}

func FromHardwareAddr(hw net.HardwareAddr) (Addr, error) {
	var a Addr
	if len(hw) != Len {
		return a, fmt.Errorf("%w: %d bytes", ErrInvalidAddr, len(hw))
	}
	copy(a[:], hw)
	return a, nil
}

// Random generates a unicast, locally administered address.
func Random() (Addr, error) {
	var a Addr
	if _, err := rand.Read(a[:]); err != nil {
		return a, err
	}
	a[0] = (a[0] | 0x02) &^ 0x01
	return a, nil
}
