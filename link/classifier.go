package link

import (
	"pairlink/hwaddr"

	log "github.com/sirupsen/logrus"
)

// CommandHandler receives the text following CommandPrefix.
type CommandHandler func(src hwaddr.Addr, cmd string)

// Classifier attributes inbound datagrams to the Directory. The sender of any
// non-broadcast datagram becomes, or stays, the active peer.
type Classifier struct {
	dir       *Directory
	clock     Clock
	onCommand CommandHandler
}

func NewClassifier(dir *Directory, clock Clock, onCommand CommandHandler) *Classifier {
	if clock == nil {
		clock = SystemClock
	}
	return &Classifier{dir: dir, clock: clock, onCommand: onCommand}
}

// Handle processes one inbound datagram and returns the extracted command, if any.
func (c *Classifier) Handle(src hwaddr.Addr, payload []byte) (string, bool) {
	if msg, ok := ParseMessage(payload); ok {
		log.Debugf("Received message %s#%d from %s", msg.Suffix, msg.Seq, src)
	} else {
		log.Debugf("Received %d bytes from %s: %q", len(payload), src, payload)
	}

	if src.IsBroadcast() {
		log.Debugf("Ignoring datagram with broadcast source")
	} else {
		c.attribute(src)
	}

	cmd, ok := ParseCommand(payload)
	if !ok {
		return "", false
	}
	log.Infof("Command from %s: %q", src, cmd)
	if c.onCommand != nil {
		c.onCommand(src, cmd)
	}
	return cmd, true
}

func (c *Classifier) attribute(src hwaddr.Addr) {
	now := c.clock.Now()

	if peer, ok := c.dir.Current(); ok && peer.Address == src {
		if c.dir.Touch(src, now) {
			return
		}
		// evicted between the lookup and the touch
	}
	if err := c.dir.Adopt(src, now); err != nil {
		log.Errorf("Failed to adopt peer %s: %v", src, err)
	}
}
