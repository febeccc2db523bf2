package link

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pairlink/hwaddr"

	log "github.com/sirupsen/logrus"
)

type sendResult struct {
	dst       hwaddr.Addr
	delivered bool
}

// Sender wraps the radio's asynchronous Send with bounded retries and a synchronous
// wait for the delivery-status callback. Only one reliable send is in flight at a time.
type Sender struct {
	radio  Radio
	timing Timing

	mu      sync.Mutex       // serializes SendReliable
	confirm chan sendResult // single slot

	attempts  atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

func NewSender(radio Radio, timing Timing) *Sender {
	return &Sender{
		radio:   radio,
		timing:  timing.withDefaults(),
		confirm: make(chan sendResult, 1),
	}
}

// HandleSendResult is installed as the radio's send-result callback.
func (s *Sender) HandleSendResult(dst hwaddr.Addr, delivered bool) {
	status := "Delivery Fail"
	if delivered {
		status = "Delivery Success"
	}
	log.Debugf("Last packet send status: %s to %s", status, dst)

	select {
	case s.confirm <- sendResult{dst: dst, delivered: delivered}:
	default:
		log.Debugf("Sender: confirmation slot full, dropping status for %s", dst)
	}
}

// SendReliable transmits payload to dst, retrying up to MaxAttempts times.
// A synchronous rejection, a failed confirmation and a confirmation timeout all
// consume one attempt and are followed by the backoff. Cancelling ctx ends the
// call early with Failed.
func (s *Sender) SendReliable(ctx context.Context, dst hwaddr.Addr, payload []byte) Outcome {
	if len(payload) > MaxPayloadSize {
		log.Errorf("SendReliable: %v (%d bytes to %s)", ErrPayloadTooLarge, len(payload), dst)
		s.failed.Add(1)
		return Failed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 1; attempt <= s.timing.MaxAttempts; attempt++ {
		s.drain()
		s.attempts.Add(1)

		if err := s.radio.Send(dst, payload); err != nil {
			log.Debugf("SendReliable: attempt %d/%d to %s rejected: %v", attempt, s.timing.MaxAttempts, dst, err)
		} else if s.awaitConfirm(ctx, dst) {
			s.delivered.Add(1)
			return Delivered
		} else {
			log.Debugf("SendReliable: attempt %d/%d to %s not confirmed", attempt, s.timing.MaxAttempts, dst)
		}

		if attempt == s.timing.MaxAttempts || !sleepCtx(ctx, s.timing.Backoff) {
			break
		}
	}

	s.failed.Add(1)
	log.Warnf("SendReliable: giving up on %s after %d attempts", dst, s.timing.MaxAttempts)
	return Failed
}

// drain discards a confirmation left over from an attempt that already timed out.
func (s *Sender) drain() {
	for {
		select {
		case res := <-s.confirm:
			log.Debugf("Sender: discarding stale confirmation for %s", res.dst)
		default:
			return
		}
	}
}

func (s *Sender) awaitConfirm(ctx context.Context, dst hwaddr.Addr) bool {
	timer := time.NewTimer(s.timing.ConfirmTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return false
		case res := <-s.confirm:
			if res.dst != dst {
				log.Debugf("Sender: ignoring confirmation for %s while waiting on %s", res.dst, dst)
				continue
			}
			return res.delivered
		}
	}
}

// SendStats is a snapshot of the Sender counters.
type SendStats struct {
	Attempts  uint64
	Delivered uint64
	Failed    uint64
}

func (s *Sender) Stats() SendStats {
	return SendStats{
		Attempts:  s.attempts.Load(),
		Delivered: s.delivered.Load(),
		Failed:    s.failed.Load(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
