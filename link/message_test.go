package link

import (
	"testing"

	"pairlink/hwaddr"

	"github.com/stretchr/testify/assert"
)

func TestFormatMessage(t *testing.T) {
	addr := hwaddr.MustParse("24:6f:28:01:a2:3c")
	assert.Equal(t, "Hello from A23C_0", string(FormatMessage(addr, 0)))
	assert.Equal(t, "Hello from A23C_42", string(FormatMessage(addr, 42)))
}

func TestParseMessage(t *testing.T) {
	tests := []struct {
		in   string
		want Message
		ok   bool
	}{
		{"Hello from A23C_0", Message{Suffix: "A23C", Seq: 0}, true},
		{"Hello from 00FF_18446744073709551615", Message{Suffix: "00FF", Seq: 18446744073709551615}, true},
		{"Hello from A23C", Message{}, false},
		{"Hello from A2_1", Message{}, false},
		{"Hello from A23C_x", Message{}, false},
		{"Hello from A23C_-1", Message{}, false},
		{"Goodbye from A23C_1", Message{}, false},
		{"", Message{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseMessage([]byte(tt.in))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandFraming(t *testing.T) {
	payload := FormatCommand("reboot now")
	assert.Equal(t, "CMD:reboot now", string(payload))

	cmd, ok := ParseCommand(payload)
	assert.True(t, ok)
	assert.Equal(t, "reboot now", cmd)

	_, ok = ParseCommand([]byte("Hello from A23C_0"))
	assert.False(t, ok)
}
