package congestion

import (
	"testing"
	"time"
)

func TestInitialWindow(t *testing.T) {
	c := New(16)
	if c.Cwnd() != 1 {
		t.Errorf("Cwnd() = %d, want 1", c.Cwnd())
	}
	if c.Ssthresh() != 16 {
		t.Errorf("Ssthresh() = %d, want 16", c.Ssthresh())
	}
}

func TestSlowStartGrowsByOnePerAck(t *testing.T) {
	c := New(16)
	for i := 0; i < 4; i++ {
		c.OnAck()
	}
	if got := c.Cwnd(); got != 5 {
		t.Errorf("Cwnd() after 4 acks = %d, want 5", got)
	}
}

func TestTripleDuplicateAckHalvesWindow(t *testing.T) {
	c := New(16)
	for i := 0; i < 20; i++ {
		c.OnAck()
	}
	before := c.Cwnd()

	c.OnTripleDuplicateAck()

	if c.Ssthresh() != before/2 {
		t.Errorf("Ssthresh() = %d, want %d", c.Ssthresh(), before/2)
	}
	if c.Cwnd() != c.Ssthresh() {
		t.Errorf("Cwnd() = %d, want equal to Ssthresh() = %d", c.Cwnd(), c.Ssthresh())
	}
	if c.CurrentPhase() != PhaseFastRecovery {
		t.Errorf("CurrentPhase() = %v, want PhaseFastRecovery", c.CurrentPhase())
	}
}

func TestTimeoutResetsToOneAndHalvesSsthresh(t *testing.T) {
	c := New(16)
	for i := 0; i < 20; i++ {
		c.OnAck()
	}
	before := c.Cwnd()

	c.OnTimeout()

	if c.Cwnd() != 1 {
		t.Errorf("Cwnd() after timeout = %d, want 1", c.Cwnd())
	}
	if c.Ssthresh() != before/2 {
		t.Errorf("Ssthresh() = %d, want %d", c.Ssthresh(), before/2)
	}
	if c.CurrentPhase() != PhaseSlowStartAfterTimeout {
		t.Errorf("CurrentPhase() = %v, want PhaseSlowStartAfterTimeout", c.CurrentPhase())
	}
}

func TestRecoveryExitsToNormalWhenCwndReachesSsthresh(t *testing.T) {
	c := New(16)
	for i := 0; i < 20; i++ {
		c.OnAck()
	}
	c.OnTripleDuplicateAck()
	if c.CurrentPhase() != PhaseFastRecovery {
		t.Fatalf("expected fast recovery, got %v", c.CurrentPhase())
	}

	c.OnAck()

	if c.CurrentPhase() != PhaseNormal {
		t.Errorf("CurrentPhase() after ack past ssthresh = %v, want PhaseNormal", c.CurrentPhase())
	}
}

func TestEffectiveWindowIsMinOfCwndAndRwnd(t *testing.T) {
	c := New(16)
	for i := 0; i < 20; i++ {
		c.OnAck()
	}

	if got := c.EffectiveWindow(5); got != 5 {
		t.Errorf("EffectiveWindow(5) = %d, want 5", got)
	}
	if got := c.EffectiveWindow(1000); got != c.Cwnd() {
		t.Errorf("EffectiveWindow(1000) = %d, want cwnd %d", got, c.Cwnd())
	}
}

func TestRTTEstimatorSeedsFromInitialTimeout(t *testing.T) {
	r := NewRTTEstimator(500 * time.Millisecond)
	if r.RTO() != 500*time.Millisecond {
		t.Errorf("RTO() = %v, want 500ms", r.RTO())
	}
}

func TestRTTEstimatorConverges(t *testing.T) {
	r := NewRTTEstimator(500 * time.Millisecond)
	for i := 0; i < 20; i++ {
		r.Update(20 * time.Millisecond)
	}
	if r.SRTT() > 30*time.Millisecond {
		t.Errorf("SRTT() = %v, expected to converge near 20ms", r.SRTT())
	}
	if r.RTO() < minRTO {
		t.Errorf("RTO() = %v below floor %v", r.RTO(), minRTO)
	}
}

func TestRTTEstimatorBackoffCaps(t *testing.T) {
	r := NewRTTEstimator(100 * time.Millisecond)
	for i := 0; i < maxBackoffCount+5; i++ {
		r.Backoff()
	}
	if r.RTO() > maxRTO {
		t.Errorf("RTO() = %v exceeds ceiling %v", r.RTO(), maxRTO)
	}
}
