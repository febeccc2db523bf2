package link

import (
	"time"

	"pairlink/hwaddr"

	"golang.org/x/sync/singleflight"
)

type StatusRequest struct{}

type StatusResponse struct {
	Local         hwaddr.Addr   `cbor:"1,keyasint"`
	HasPeer       bool          `cbor:"2,keyasint,omitempty"`
	Peer          hwaddr.Addr   `cbor:"3,keyasint,omitempty"`
	LastSeenAgo   time.Duration `cbor:"4,keyasint,omitempty"`
	Sequence      uint64        `cbor:"5,keyasint,omitempty"`
	LastBroadcast int64         `cbor:"6,keyasint,omitempty"`
	Attempts      uint64        `cbor:"7,keyasint,omitempty"`
	Delivered     uint64        `cbor:"8,keyasint,omitempty"`
	Failed        uint64        `cbor:"9,keyasint,omitempty"`
	RxDropped     uint64        `cbor:"10,keyasint,omitempty"`
}

// StatusService exposes Node.Status over crpc as "Link.Status".
type StatusService struct {
	node  *Node
	clock Clock
	sg    singleflight.Group
}

func NewStatusService(node *Node, clock Clock) *StatusService {
	if clock == nil {
		clock = SystemClock
	}
	return &StatusService{node: node, clock: clock}
}

func (s *StatusService) Status(req *StatusRequest, res *StatusResponse) error {
	v, _, _ := s.sg.Do("status", func() (interface{}, error) {
		return s.snapshot(), nil
	})
	*res = v.(StatusResponse)
	return nil
}

func (s *StatusService) snapshot() StatusResponse {
	st := s.node.Status()
	res := StatusResponse{
		Local:         st.Local,
		Sequence:      st.Sequence,
		LastBroadcast: st.LastBroadcast,
		Attempts:      st.Send.Attempts,
		Delivered:     st.Send.Delivered,
		Failed:        st.Send.Failed,
		RxDropped:     st.RxDropped,
	}
	if st.Peer != nil {
		res.HasPeer = true
		res.Peer = st.Peer.Address
		res.LastSeenAgo = st.Peer.Age(s.clock.Now())
	}
	return res
}
