package udplink

import (
	"errors"
	"fmt"

	"pairlink/hwaddr"

	"github.com/fxamacker/cbor/v2"
)

type FrameKind uint8

const (
	KindData FrameKind = iota + 1
	KindAck
)

var ErrBadFrame = errors.New("malformed frame")

// Frame is the envelope carried in one UDP datagram. It is encoded as a CBOR array.
type Frame struct {
	_       struct{}    `cbor:",toarray"`
	Kind    FrameKind   // data or ack
	Channel uint8       // emulated radio channel
	Src     hwaddr.Addr // sender
	Dst     hwaddr.Addr // receiver, or hwaddr.Broadcast
	Seq     uint64      // per-sender sequence echoed by the ack
	Payload []byte
}

func EncodeFrame(f *Frame) ([]byte, error) {
	return cbor.Marshal(f)
}

func DecodeFrame(data []byte) (*Frame, error) {
	f := &Frame{}
	if err := cbor.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if f.Kind != KindData && f.Kind != KindAck {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrBadFrame, f.Kind)
	}
	return f, nil
}
