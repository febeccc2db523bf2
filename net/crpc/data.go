package crpc

// A call on the wire is a RequestHeader followed by the CBOR argument. The answer is
// a ResponseHeader followed by the reply, which is omitted when Err is set.
type RequestHeader struct {
	Seq    uint64 `cbor:"1,keyasint,omitempty"`
	Method string `cbor:"2,keyasint,omitempty"`
}

type ResponseHeader struct {
	Seq uint64 `cbor:"1,keyasint,omitempty"`
	Err string `cbor:"2,keyasint,omitempty"`
}
