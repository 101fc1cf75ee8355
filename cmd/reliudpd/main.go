// Command reliudpd runs one reliable-transport connection over a UDP
// socket, piping application bytes between the peer and its own stdin and
// stdout — the same "connect a byte pipe to a flaky network" shape as the
// lab tool this transport was distilled from. Grounded on the teacher
// corpus's source/server/server.go Start/listen/updateLoop/
// sessionCleanupLoop split, generalized from a fixed game-server UDP
// listener to a single-peer reliable stream and from a goroutine-per-packet
// dispatcher to the event-driven session.Host contract.
package main

import (
	"flag"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"

	"github.com/kdoroshev/reliudp/internal/rlog"
	"github.com/kdoroshev/reliudp/pkg/config"
	"github.com/kdoroshev/reliudp/pkg/metrics"
	"github.com/kdoroshev/reliudp/pkg/session"
)

func main() {
	configPath := flag.String("config", "reliudp.yml", "path to the YAML configuration file")
	flag.Parse()

	log := rlog.New(nil)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Errorf("loading config: %v", err)
		os.Exit(1)
	}
	rlog.SetLevel(cfg.LogLevel)

	sessCfg, err := cfg.SessionConfig()
	if err != nil {
		log.Errorf("invalid config: %v", err)
		os.Exit(1)
	}

	listenAddr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		log.Errorf("resolving listen address %s: %v", cfg.Listen, err)
		os.Exit(1)
	}
	conn, err := net.ListenUDP("udp", listenAddr)
	if err != nil {
		log.Errorf("binding %s: %v", cfg.Listen, err)
		os.Exit(1)
	}
	defer conn.Close()

	host := newUDPHost(conn, sessCfg.MSS)
	if cfg.Peer != "" {
		peerAddr, err := net.ResolveUDPAddr("udp", cfg.Peer)
		if err != nil {
			log.Errorf("resolving peer %s: %v", cfg.Peer, err)
			os.Exit(1)
		}
		host.setPeer(peerAddr)
	}

	connID := xid.New().String()
	sessLog := log.With(map[string]interface{}{"conn": connID, "role": cfg.Role})
	sess := session.New(sessCfg, host, sessLog)

	var collector *metrics.Collector
	if cfg.MetricsAddr != "" {
		collector = metrics.New([]string{"conn"})
		collector.Add(connID, sess, []string{connID})
		reg := prometheus.NewRegistry()
		reg.MustRegister(collector)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			sessLog.Errorf("metrics server exited: %v", http.ListenAndServe(cfg.MetricsAddr, mux))
		}()
	}

	go host.readLoop(sessLog)

	// Every callback into sess happens from this single goroutine — per
	// DESIGN.md's concurrency note, the engine relies on its host serializing
	// dispatch rather than locking its own state.
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case dg, ok := <-host.datagrams:
			if !ok {
				sessLog.Errorf("udp socket closed, exiting")
				return
			}
			sess.OnDatagram(dg)
		case <-ticker.C:
			sess.OnReadable()
			sess.OnWritable()
			sess.OnTick()
		}

		if err := sess.FatalErr(); err != nil {
			sessLog.Errorf("fatal output error: %v", err)
			os.Exit(1)
		}
		if sess.IsQuiescent() {
			sessLog.Infof("connection reached quiescence, exiting")
			if collector != nil {
				collector.Remove(connID)
			}
			return
		}
	}
}

// udpHost adapts a single UDP socket and the process's stdin/stdout into a
// session.Host. Input is pumped through a background reader goroutine into
// a small channel so InputRead can be non-blocking, since os.Stdin.Read
// itself blocks.
type udpHost struct {
	conn *net.UDPConn
	mss  int

	peerMu sync.RWMutex
	peer   *net.UDPAddr

	in       chan []byte
	leftover []byte

	outMu sync.Mutex

	// datagrams carries raw inbound datagrams from readLoop to main's
	// select loop, which is the sole caller of every sess.On* method.
	datagrams chan []byte
}

func newUDPHost(conn *net.UDPConn, mss int) *udpHost {
	if mss <= 0 {
		mss = 1000
	}
	h := &udpHost{conn: conn, mss: mss, in: make(chan []byte, 64), datagrams: make(chan []byte, 64)}
	go h.stdinPump()
	return h
}

func (h *udpHost) stdinPump() {
	buf := make([]byte, h.mss)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.in <- chunk
		}
		if err != nil {
			close(h.in)
			return
		}
	}
}

func (h *udpHost) InputRead(buf []byte) int {
	if len(h.leftover) > 0 {
		n := copy(buf, h.leftover)
		h.leftover = h.leftover[n:]
		return n
	}
	select {
	case chunk, ok := <-h.in:
		if !ok {
			return -1
		}
		n := copy(buf, chunk)
		if n < len(chunk) {
			h.leftover = chunk[n:]
		}
		return n
	default:
		return 0
	}
}

func (h *udpHost) OutputWrite(buf []byte) int {
	h.outMu.Lock()
	defer h.outMu.Unlock()
	n, err := os.Stdout.Write(buf)
	if err != nil {
		return -1
	}
	return n
}

// OutputSpace reports a large constant: unlike a socket send buffer, the
// process's stdout has no introspectable capacity via the standard library,
// so this host never throttles the receiver's advertised window on that
// basis. OutputWrite never returns 0 either: os.Stdout.Write blocks until
// it has written the whole buffer or failed, so a slow downstream reader
// shows up as OutputWrite blocking.
func (h *udpHost) OutputSpace() int {
	return 1 << 20
}

func (h *udpHost) SendDatagram(b []byte) {
	h.peerMu.RLock()
	peer := h.peer
	h.peerMu.RUnlock()
	if peer == nil {
		return
	}
	_, _ = h.conn.WriteToUDP(b, peer)
}

func (h *udpHost) Now() time.Time {
	return time.Now()
}

func (h *udpHost) setPeer(addr *net.UDPAddr) {
	h.peerMu.Lock()
	h.peer = addr
	h.peerMu.Unlock()
}

func (h *udpHost) peerKnown() bool {
	h.peerMu.RLock()
	defer h.peerMu.RUnlock()
	return h.peer != nil
}

// readLoop reads inbound datagrams and pushes them onto h.datagrams,
// learning the peer address from the first datagram received when none was
// configured (the passive side of a connection started by "peer:" on only
// one end). It never calls into sess itself — main's select loop is the
// sole caller of every sess.On* method.
func (h *udpHost) readLoop(log *rlog.Logger) {
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := h.conn.ReadFromUDP(buf)
		if err != nil {
			log.Errorf("udp read error: %v", err)
			close(h.datagrams)
			return
		}
		if !h.peerKnown() {
			h.setPeer(addr)
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		h.datagrams <- data
	}
}
