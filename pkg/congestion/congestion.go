// Package congestion implements the extended variant's TCP-style
// congestion controller: slow start, additive increase, multiplicative
// decrease on timeout, and fast retransmit on triple duplicate ACK, plus an
// RFC 6298-style adaptive retransmission timeout. Grounded on the teacher
// corpus's tcpCongestionControl and tcpRTTEstimator
// (tinyrange-cc internal/netstack/tcp.go), adapted from byte-denominated
// windows to the packet-denominated windows this protocol's cumulative ACK
// operates on.
package congestion

import (
	"sync"
	"time"
)

// Phase is the controller's current regime, used only for observability —
// admission and ACK handling are governed by cwnd/ssthresh directly.
type Phase int

const (
	PhaseNormal Phase = iota
	PhaseFastRecovery
	PhaseSlowStartAfterTimeout
)

func (p Phase) String() string {
	switch p {
	case PhaseFastRecovery:
		return "fast-recovery"
	case PhaseSlowStartAfterTimeout:
		return "slow-start-after-timeout"
	default:
		return "normal"
	}
}

// Controller maintains cwnd and ssthresh in packets, per spec §4.8.
type Controller struct {
	mu       sync.Mutex
	cwnd     float64
	ssthresh float64
	phase    Phase
}

// New creates a controller with cwnd=1 (per spec's allowance for "a small
// constant") and ssthresh seeded from the configured window.
func New(configuredWindow int) *Controller {
	return &Controller{
		cwnd:     1,
		ssthresh: float64(configuredWindow),
		phase:    PhaseNormal,
	}
}

// OnAck is called for every ACK that advances last_ack. In slow start
// (cwnd < ssthresh) cwnd grows by one packet per ACK; in congestion
// avoidance it grows by 1/cwnd packets per ACK, approximating one packet
// per RTT. Spec §4.8's note: this implementation increments per-ACK rather
// than per-RTT in slow start, as the source it was distilled from does.
func (c *Controller) OnAck() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cwnd < c.ssthresh {
		c.cwnd++
	} else {
		c.cwnd += 1 / c.cwnd
	}
	if c.phase != PhaseNormal && c.cwnd >= c.ssthresh {
		c.phase = PhaseNormal
	}
}

// OnTripleDuplicateAck halves cwnd to ssthresh and enters fast recovery.
// The caller is responsible for the actual fast retransmit of the packet at
// last_ack; this only updates window state.
func (c *Controller) OnTripleDuplicateAck() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ssthresh = c.cwnd / 2
	if c.ssthresh < 1 {
		c.ssthresh = 1
	}
	c.cwnd = c.ssthresh
	c.phase = PhaseFastRecovery
}

// OnTimeout halves ssthresh and resets cwnd to 1, entering slow start.
func (c *Controller) OnTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ssthresh = c.cwnd / 2
	if c.ssthresh < 1 {
		c.ssthresh = 1
	}
	c.cwnd = 1
	c.phase = PhaseSlowStartAfterTimeout
}

// Cwnd returns the current congestion window in packets, rounded down —
// the effective count of packets cwnd admits.
func (c *Controller) Cwnd() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint32(c.cwnd)
}

// Ssthresh returns the current slow-start threshold in packets.
func (c *Controller) Ssthresh() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint32(c.ssthresh)
}

// CurrentPhase returns the controller's current regime.
func (c *Controller) CurrentPhase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// EffectiveWindow returns min(cwnd, rwnd), the upper bound on in-flight
// unacknowledged packets per spec §4.8.
func (c *Controller) EffectiveWindow(rwnd uint32) uint32 {
	cwnd := c.Cwnd()
	if cwnd < rwnd {
		return cwnd
	}
	return rwnd
}

// RTT estimation (RFC 6298), used by the extended variant to adapt the
// retransmission timeout around a configured floor rather than relying on
// a single fixed timeout_ms.

const (
	minRTO = 50 * time.Millisecond
	maxRTO = 60 * time.Second

	// maxBackoffCount bounds the number of 1.5x backoffs applied to the
	// RTO since the last RTT sample; further backoffs leave it unchanged
	// until Update resets the count.
	maxBackoffCount = 6
)

// RTTEstimator implements the smoothed-RTT / RTT-variance estimator of
// RFC 6298 section 2, seeded from a configured initial timeout rather than
// a hardcoded default so the configured timeout_ms still governs the first
// retransmission.
type RTTEstimator struct {
	mu           sync.Mutex
	srtt         time.Duration
	rttVar       time.Duration
	rto          time.Duration
	hasInitial   bool
	backoffCount int
}

// NewRTTEstimator seeds the estimator's RTO from the configured timeout.
func NewRTTEstimator(initialTimeout time.Duration) *RTTEstimator {
	return &RTTEstimator{rto: initialTimeout}
}

// Update incorporates a fresh RTT sample per RFC 6298 section 2.2/2.3.
func (r *RTTEstimator) Update(rtt time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasInitial {
		r.srtt = rtt
		r.rttVar = rtt / 2
		r.hasInitial = true
	} else {
		delta := r.srtt - rtt
		if delta < 0 {
			delta = -delta
		}
		r.rttVar = (3*r.rttVar + delta) / 4
		r.srtt = (7*r.srtt + rtt) / 8
	}

	r.rto = r.srtt + 4*r.rttVar
	r.clampLocked()
	r.backoffCount = 0
}

// Backoff applies a gentler-than-RFC 1.5x multiplicative backoff, capped
// after maxBackoffCount backoffs without an intervening Update. The count
// is shared by all packets, not kept per packet.
func (r *RTTEstimator) Backoff() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.backoffCount < maxBackoffCount {
		r.rto = (r.rto * 3) / 2
		r.backoffCount++
		r.clampLocked()
	}
}

func (r *RTTEstimator) clampLocked() {
	if r.rto < minRTO {
		r.rto = minRTO
	}
	if r.rto > maxRTO {
		r.rto = maxRTO
	}
}

// RTO returns the current retransmission timeout.
func (r *RTTEstimator) RTO() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rto
}

// SRTT returns the current smoothed RTT, zero if no sample has landed yet.
func (r *RTTEstimator) SRTT() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.srtt
}
