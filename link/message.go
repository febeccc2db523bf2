package link

import (
	"fmt"
	"strconv"
	"strings"

	"pairlink/hwaddr"
)

const (
	// CommandPrefix marks a datagram carrying a command string. There is no length
	// field: the command runs to the end of the datagram.
	CommandPrefix = "CMD:"

	greetingPrefix = "Hello from "
)

// Message is the parsed form of a heartbeat/discovery token.
// Heartbeats and discovery broadcasts are identical on the wire.
type Message struct {
	Suffix string
	Seq    uint64
}

func FormatMessage(local hwaddr.Addr, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s_%d", greetingPrefix, local.Suffix(), seq))
}

func ParseMessage(payload []byte) (Message, bool) {
	rest, ok := strings.CutPrefix(string(payload), greetingPrefix)
	if !ok {
		return Message{}, false
	}
	suffix, seqStr, ok := strings.Cut(rest, "_")
	if !ok || len(suffix) != 4 {
		return Message{}, false
	}
	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return Message{}, false
	}
	return Message{Suffix: suffix, Seq: seq}, true
}

func FormatCommand(cmd string) []byte {
	return []byte(CommandPrefix + cmd)
}

// ParseCommand returns everything after CommandPrefix.
func ParseCommand(payload []byte) (string, bool) {
	return strings.CutPrefix(string(payload), CommandPrefix)
}
