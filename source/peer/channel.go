package peer

import "udpwire-go/source/protocol"

// ackRecord identifies one reliably-received message awaiting an
// acknowledge; three bytes on the wire.
type ackRecord struct {
	wireType protocol.WireType
	sequence int
}

// pendingEnvelope is a serialized reliable message awaiting its
// acknowledge.
type pendingEnvelope struct {
	raw        []byte
	nextResend float64
	sentCount  int
}

// reliableSender tracks unacknowledged envelopes for one wire type and
// retransmits each when its resend delay elapses. Owned by the network
// goroutine; the only cross-cutting input is the resend delay pushed by
// the latency engine.
type reliableSender struct {
	wireType    protocol.WireType
	resendDelay float64
	nextSeq     int
	pending     map[int]*pendingEnvelope
}

func newReliableSender(wireType protocol.WireType, resendDelay float64) *reliableSender {
	return &reliableSender{
		wireType:    wireType,
		resendDelay: resendDelay,
		pending:     make(map[int]*pendingEnvelope),
	}
}

// setResendDelay is pushed by the latency engine after every pong.
func (s *reliableSender) setResendDelay(delay float64) {
	s.resendDelay = delay
}

// nextSequence hands out the channel's next 15-bit sequence number.
func (s *reliableSender) nextSequence() int {
	seq := s.nextSeq
	s.nextSeq = (s.nextSeq + 1) % protocol.MaxSequenceNumber
	return seq
}

// enqueue stores a sent envelope until it is acknowledged.
func (s *reliableSender) enqueue(sequence int, raw []byte, now float64) {
	s.pending[sequence] = &pendingEnvelope{
		raw:        raw,
		nextResend: now + s.resendDelay,
		sentCount:  1,
	}
}

// acknowledge clears a delivered envelope; reports whether it was pending.
func (s *reliableSender) acknowledge(sequence int) bool {
	if _, ok := s.pending[sequence]; !ok {
		return false
	}
	delete(s.pending, sequence)
	return true
}

// dueResends returns the envelopes whose resend time has passed and
// reschedules them.
func (s *reliableSender) dueResends(now float64) [][]byte {
	var due [][]byte
	for _, env := range s.pending {
		if now >= env.nextResend {
			due = append(due, env.raw)
			env.nextResend = now + s.resendDelay
			env.sentCount++
		}
	}
	return due
}
