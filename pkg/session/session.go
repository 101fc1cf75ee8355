// Package session implements the per-connection reliable-transport engine:
// the sender and receiver state machines, the end-of-stream handshake, and
// the four-condition teardown. It is agnostic to how its host acquires or
// schedules the four callbacks it consumes (InputRead, OutputWrite,
// OutputSpace, SendDatagram) and the clock (Now) — the host owns the UDP
// socket, the per-peer demultiplexer, and the event loop scheduler, per the
// scope boundary in the design notes.
//
// Grounded on the teacher corpus's connection-handling style
// (source/server/server.go's per-peer session map and ticker-driven Update
// loop) and on tinyrange-cc's tcpConn.handleSegment for the
// decode-then-dispatch shape of OnDatagram.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/kdoroshev/reliudp/internal/rlog"
	"github.com/kdoroshev/reliudp/pkg/congestion"
	"github.com/kdoroshev/reliudp/pkg/recvbuf"
	"github.com/kdoroshev/reliudp/pkg/sendbuf"
	"github.com/kdoroshev/reliudp/pkg/wire"
)

// Role selects startup and input-handling behavior, per spec §4.7 and §6.
type Role int

const (
	// RoleSender reads application input and may receive an EOF reply.
	RoleSender Role = iota
	// RoleReceiver ignores application input and sends its own EOF
	// immediately at bootstrap.
	RoleReceiver
	// RoleSymmetric reads application input like RoleSender; the
	// distinction from RoleSender is purely semantic (a connection
	// carrying real data in both directions rather than one pure
	// source / one pure sink), so it is handled identically here.
	RoleSymmetric
)

// Host is the set of callbacks and the clock the engine consumes. The host
// owns everything spec.md places out of scope of the core: the UDP socket
// I/O loop, the per-connection demultiplexer, and the event-loop scheduler
// that invokes these methods on packet arrival, readable input, writable
// output, and the periodic tick.
type Host interface {
	// InputRead copies up to len(buf) bytes into buf. Returns n>0 bytes
	// copied, 0 if nothing is available now, or -1 on end of input.
	InputRead(buf []byte) int
	// OutputWrite accepts up to len(buf) bytes. Returns n>0 accepted,
	// 0 if there is no space, or a negative value on fatal error.
	OutputWrite(buf []byte) int
	// OutputSpace reports remaining write-buffer capacity in bytes.
	OutputSpace() int
	// SendDatagram is fire-and-forget; it must not fail the engine.
	SendDatagram(b []byte)
	// Now returns the current monotonic time.
	Now() time.Time
}

// Config configures one session.
type Config struct {
	Role    Role
	Variant wire.Variant
	// Window is the baseline variant's static window in packets, the
	// extended variant's initial ssthresh, and (for both) the
	// receiver's acceptance-window size in packets.
	Window int
	// Timeout is the baseline variant's fixed retransmission timeout,
	// and the extended variant's initial RTO before any RTT sample has
	// landed.
	Timeout time.Duration
	MSS     int
}

// ErrFatalOutput is the error FatalErr returns once the host's OutputWrite
// has reported a fatal condition; the engine stops making progress on that
// session's delivery path from that point on.
var ErrFatalOutput = errors.New("session: fatal output error")

// Session is one connection's protocol engine.
type Session struct {
	cfg  Config
	host Host
	log  *rlog.Logger

	send *sendbuf.Buffer
	recv *recvbuf.Buffer

	cc  *congestion.Controller   // nil for the baseline variant
	rtt *congestion.RTTEstimator // nil for the baseline variant

	// Sender state (spec §3).
	nextOutSeq  uint32
	lastAck     uint32
	sendEOF     bool
	dupAckCount uint32
	peerRwnd    uint32

	// Receiver state (spec §3).
	nextExpected  uint32
	nextToDeliver uint32
	recvEOF       bool

	fatalErr error

	// statsMu guards only the fields Stats() reads, since Stats() may be
	// called from a Prometheus HTTP-handler goroutine concurrently with the
	// host's own callback goroutine, per the metrics collector's grounding.
	// Every other field above is touched solely by the callback goroutine.
	statsMu       sync.Mutex
	retransmits   uint64
	duplicateAcks uint64
}

// New creates a session in the given role. A RoleReceiver session sends its
// own EOF immediately, per spec §4.7.
func New(cfg Config, host Host, log *rlog.Logger) *Session {
	s := &Session{
		cfg:           cfg,
		host:          host,
		log:           log,
		send:          sendbuf.New(),
		recv:          recvbuf.New(),
		nextOutSeq:    1,
		lastAck:       1,
		nextExpected:  1,
		nextToDeliver: 1,
		peerRwnd:      uint32(cfg.Window),
	}
	if cfg.Variant == wire.VariantExtended {
		s.cc = congestion.New(cfg.Window)
		s.rtt = congestion.NewRTTEstimator(cfg.Timeout)
	}
	if cfg.Role == RoleReceiver {
		s.sendEOFNow()
	}
	return s
}

// FatalErr returns the error recorded once OutputWrite has reported a
// fatal condition, or nil.
func (s *Session) FatalErr() error {
	return s.fatalErr
}

// IsQuiescent reports whether all four teardown conditions of spec §4.7
// hold: both sides' EOF sent and observed, every outbound packet
// acknowledged, and every received payload delivered.
func (s *Session) IsQuiescent() bool {
	return s.sendEOF && s.recvEOF &&
		s.lastAck == s.nextOutSeq &&
		s.nextToDeliver == s.nextExpected
}

// OnReadable is invoked by the host when application input may be
// available. A RoleReceiver session ignores it entirely.
func (s *Session) OnReadable() {
	if s.cfg.Role == RoleReceiver || s.sendEOF {
		return
	}

	buf := make([]byte, s.cfg.MSS)
	n := s.host.InputRead(buf)
	switch {
	case n > 0:
		s.sendDataPacket(buf[:n], false)
	case n == 0:
		// Nothing available right now.
	default:
		s.sendEOFNow()
	}
}

// OnWritable is invoked by the host when output space may have opened up;
// it resumes a delivery that previously stalled on OutputWrite returning 0.
func (s *Session) OnWritable() {
	s.deliver()
}

// OnTick is invoked periodically by the host (spec suggests 10-20ms) to
// drive the retransmission timer.
func (s *Session) OnTick() {
	now := s.host.Now()
	timeout := s.currentTimeout()

	s.send.ForEachDue(now, timeout, func(e sendbuf.Entry) bool {
		if !s.admissible(e.Seqno) {
			return false
		}
		s.host.SendDatagram(e.Wire)
		s.statsMu.Lock()
		s.retransmits++
		s.statsMu.Unlock()
		if s.cc != nil {
			s.cc.OnTimeout()
		}
		if s.rtt != nil {
			s.rtt.Backoff()
		}
		s.log.Debugf("retransmit on timeout seqno=%d", e.Seqno)
		return true
	})

	s.drainAdmissible()
}

// drainAdmissible transmits every queued-but-not-yet-sent packet that the
// window now admits, per spec §4.4's "re-checked at timer tick and on ACK
// receipt": a packet enqueued while the window was full must not wait a
// full timeout to go out once admission reopens.
func (s *Session) drainAdmissible() {
	now := s.host.Now()
	s.send.ForEachUnsent(now, func(e sendbuf.Entry) bool {
		if !s.admissible(e.Seqno) {
			return false
		}
		s.host.SendDatagram(e.Wire)
		return true
	})
}

// OnDatagram is invoked by the host for every datagram the demultiplexer
// has routed to this session.
func (s *Session) OnDatagram(raw []byte) {
	p, err := s.cfg.Variant.Decode(raw)
	if err != nil {
		s.log.Debugf("dropped corrupt datagram: %v", err)
		s.emitAck()
		return
	}

	s.onAck(p.Ackno, p.Rwnd)

	if wire.IsPureACK(p, s.nextExpected, uint32(s.cfg.Window)) {
		return
	}
	s.onDataPacket(p)
}

// sendDataPacket builds and records a data (or, when data is nil, EOF)
// packet. force bypasses window admission — used only for EOF, which the
// protocol always transmits immediately regardless of the window.
func (s *Session) sendDataPacket(data []byte, force bool) {
	seqno := s.nextOutSeq
	pkt := wire.Packet{
		Ackno: s.nextExpected,
		Seqno: seqno,
		Rwnd:  s.advertisedRwnd(),
		Data:  data,
	}
	encoded := s.cfg.Variant.Encode(pkt)

	sendNow := force || s.admissible(seqno)
	if sendNow {
		s.host.SendDatagram(encoded)
	}
	s.send.Append(sendbuf.Entry{Seqno: seqno, Wire: encoded, Sent: sendNow, LastSentAt: s.host.Now()})
	s.nextOutSeq++
}

func (s *Session) sendEOFNow() {
	s.sendEOF = true
	s.sendDataPacket(nil, true)
}

// onAck applies an incoming cumulative ACK to the sender's state, per spec
// §4.4 "On ACK".
func (s *Session) onAck(ackno, rwnd uint32) {
	if s.cfg.Variant == wire.VariantExtended {
		s.statsMu.Lock()
		s.peerRwnd = rwnd
		s.statsMu.Unlock()
	}

	switch {
	case ackno > s.lastAck && ackno <= s.nextOutSeq:
		if s.rtt != nil {
			now := s.host.Now()
			for _, e := range s.send.EntriesBelow(ackno) {
				// Karn's algorithm: a retransmitted packet's ACK can't be
				// attributed to either transmission, so it is never a valid
				// RTT sample.
				if e.Sent && e.RetryCount == 0 {
					s.rtt.Update(now.Sub(e.LastSentAt))
				}
			}
		}
		s.lastAck = ackno
		s.dupAckCount = 0
		s.send.Advance(ackno)
		if s.cc != nil {
			s.cc.OnAck()
		}
		s.drainAdmissible()
	case ackno == s.lastAck:
		s.dupAckCount++
		s.statsMu.Lock()
		s.duplicateAcks++
		s.statsMu.Unlock()
		if s.dupAckCount == 3 {
			s.fastRetransmit()
			s.dupAckCount = 0
		}
	default:
		// Stale or invalid ACK: ignored.
	}
}

func (s *Session) fastRetransmit() {
	e, ok := s.send.Oldest()
	if !ok || !e.Sent {
		return
	}
	s.host.SendDatagram(e.Wire)
	s.send.MarkResent(e.Seqno, s.host.Now())
	s.statsMu.Lock()
	s.retransmits++
	s.statsMu.Unlock()
	if s.cc != nil {
		s.cc.OnTripleDuplicateAck()
	}
	s.log.Debugf("fast retransmit seqno=%d", e.Seqno)
}

// onDataPacket handles an accepted-or-rejected data/EOF packet, per spec
// §4.5 "On accepted packet" and the acceptance rule.
func (s *Session) onDataPacket(p wire.Packet) {
	window := uint32(s.cfg.Window)
	inWindow := p.Seqno >= s.nextExpected && p.Seqno < s.nextExpected+window
	if !inWindow {
		s.emitAck()
		return
	}
	if s.recv.Contains(p.Seqno) {
		s.emitAck()
		return
	}

	s.recv.Insert(p.Seqno, p.Data)
	if len(p.Data) == 0 {
		s.recvEOF = true
	}

	for s.recv.Contains(s.nextExpected) {
		s.nextExpected++
	}

	s.emitAck()
	s.deliver()
}

// deliver drains buffered payloads to the application in sequence order,
// per spec §4.6.
func (s *Session) deliver() {
	if s.fatalErr != nil {
		return
	}
	for {
		e, ok := s.recv.Lookup(s.nextToDeliver)
		if !ok {
			s.emitAck()
			return
		}
		if e.Done() {
			s.nextToDeliver++
			s.recv.Advance(s.nextToDeliver)
			continue
		}

		n := s.host.OutputWrite(e.Remaining())
		switch {
		case n > 0:
			s.recv.AdvanceProgress(e.Seqno, n)
		case n == 0:
			return
		default:
			s.fatalErr = ErrFatalOutput
			return
		}
	}
}

// emitAck sends a cumulative ACK carrying the current next_expected and
// advertised receive window. Its Seqno is always 0, which can never fall
// in a peer's acceptance window (seqnos start at 1), so it is unambiguously
// structural: a header-size packet with Seqno 0 is always a pure ACK.
func (s *Session) emitAck() {
	pkt := wire.Packet{Ackno: s.nextExpected, Seqno: 0, Rwnd: s.advertisedRwnd()}
	s.host.SendDatagram(s.cfg.Variant.Encode(pkt))
}

func (s *Session) advertisedRwnd() uint32 {
	if s.cfg.Variant != wire.VariantExtended || s.cfg.MSS <= 0 {
		return 0
	}
	w := uint32(s.host.OutputSpace() / s.cfg.MSS)
	cap := uint32(s.cfg.Window)
	if w > cap {
		w = cap
	}
	return w
}

func (s *Session) admissible(seqno uint32) bool {
	return seqno-s.lastAck < s.effectiveWindow()
}

func (s *Session) effectiveWindow() uint32 {
	if s.cc == nil {
		return uint32(s.cfg.Window)
	}
	s.statsMu.Lock()
	rwnd := s.peerRwnd
	s.statsMu.Unlock()
	if rwnd == 0 {
		rwnd = uint32(s.cfg.Window)
	}
	return s.cc.EffectiveWindow(rwnd)
}

func (s *Session) currentTimeout() time.Duration {
	if s.rtt == nil {
		return s.cfg.Timeout
	}
	return s.rtt.RTO()
}

// Stats is a point-in-time snapshot used by pkg/metrics, the Prometheus
// analogue of Linux's TCP_INFO.
type Stats struct {
	Cwnd             uint32
	Ssthresh         uint32
	Rwnd             uint32
	SRTT             time.Duration
	RTO              time.Duration
	BytesInFlight    int
	RetransmitsTotal uint64
	DuplicateAcks    uint64
}

// Stats returns a snapshot of this session's observable state.
func (s *Session) Stats() Stats {
	s.statsMu.Lock()
	retransmits, duplicateAcks := s.retransmits, s.duplicateAcks
	s.statsMu.Unlock()

	st := Stats{
		Rwnd:             s.effectiveWindow(),
		BytesInFlight:    s.send.Len(),
		RetransmitsTotal: retransmits,
		DuplicateAcks:    duplicateAcks,
		RTO:              s.currentTimeout(),
	}
	if s.cc != nil {
		st.Cwnd = s.cc.Cwnd()
		st.Ssthresh = s.cc.Ssthresh()
	}
	if s.rtt != nil {
		st.SRTT = s.rtt.SRTT()
	}
	return st
}
