package hwaddr

import (
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Addr
		wantErr bool
	}{
		{name: "colon", in: "24:0a:c4:12:ab:cd", want: Addr{0x24, 0x0a, 0xc4, 0x12, 0xab, 0xcd}},
		{name: "dash upper", in: "24-0A-C4-12-AB-CD", want: Addr{0x24, 0x0a, 0xc4, 0x12, 0xab, 0xcd}},
		{name: "broadcast", in: "ff:ff:ff:ff:ff:ff", want: Broadcast},
		{name: "too long", in: "00:00:5e:00:53:01:02:03", wantErr: true},
		{name: "garbage", in: "not-an-address", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAddr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddrFormatting(t *testing.T) {
	a := Addr{0x24, 0x0a, 0xc4, 0x12, 0xab, 0xcd}

	assert.Equal(t, "24:0a:c4:12:ab:cd", a.String())
	assert.Equal(t, "ABCD", a.Suffix())
	assert.False(t, a.IsBroadcast())
	assert.True(t, Broadcast.IsBroadcast())
	assert.True(t, Addr{}.IsZero())
}

func TestRandomIsLocalUnicast(t *testing.T) {
	for i := 0; i < 32; i++ {
		a, err := Random()
		require.NoError(t, err)
		assert.Equal(t, byte(0x02), a[0]&0x02, "locally administered bit not set in %s", a)
		assert.Equal(t, byte(0x00), a[0]&0x01, "multicast bit set in %s", a)
		assert.False(t, a.IsBroadcast())
	}
}

func TestAddrEncodings(t *testing.T) {
	type holder struct {
		Addr Addr `cbor:"1,keyasint" json:"addr"`
	}
	in := holder{Addr: Addr{0x02, 0x11, 0x22, 0x33, 0x44, 0x55}}

	enc, err := cbor.Marshal(in)
	require.NoError(t, err)
	var fromCBOR holder
	require.NoError(t, cbor.Unmarshal(enc, &fromCBOR))
	assert.Equal(t, in, fromCBOR)

	js, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"addr":"02:11:22:33:44:55"}`, string(js))
	var fromJSON holder
	require.NoError(t, json.Unmarshal(js, &fromJSON))
	assert.Equal(t, in, fromJSON)
}

func TestUnmarshalBinaryRejectsShortInput(t *testing.T) {
	var a Addr
	assert.ErrorIs(t, a.UnmarshalBinary([]byte{1, 2, 3}), ErrInvalidAddr)
}
