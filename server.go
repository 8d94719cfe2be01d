package libpthread

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pbergman/logger"
	"golang.org/x/sync/semaphore"
)

// Server is the semd broker. It owns a registry of named semaphores and
// serves them to local processes over a unix socket, which is what turns
// the in-process namespace into a host-wide one: every process talking to
// the same socket sees the same names.
type Server struct {
	cfg Config
	log *logger.Logger
	reg *registry
	ns  *localNamespace

	mu       sync.Mutex
	listener net.Listener
	conns    map[*serverConn]struct{}
	connWg   sync.WaitGroup
	shutdown bool
}

// NewServer returns a broker for the given configuration. log must not be
// nil. Zero limits in cfg fall back to the defaults.
func NewServer(cfg Config, log *logger.Logger) *Server {
	def := DefaultConfig()
	if cfg.Socket == "" {
		cfg.Socket = def.Socket
	}
	if cfg.MaxWaits <= 0 {
		cfg.MaxWaits = def.MaxWaits
	}
	if cfg.MaxSemaphores < 0 {
		cfg.MaxSemaphores = 0
	}
	reg := newRegistry(cfg.MaxSemaphores)
	return &Server{
		cfg:   cfg,
		log:   log,
		reg:   reg,
		ns:    &localNamespace{reg: reg},
		conns: make(map[*serverConn]struct{}),
	}
}

// ListenAndServe binds the configured unix socket and serves until
// Shutdown. A lock file next to the socket keeps two brokers from fighting
// over the path and makes it safe to sweep up a socket left behind by a
// crash.
func (s *Server) ListenAndServe() error {
	unlock, err := lockFile(s.cfg.Socket + ".lock")
	if err != nil {
		return fmt.Errorf("broker already running? %w", err)
	}
	defer unlock()
	if err := os.Remove(s.cfg.Socket); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	l, err := net.Listen("unix", s.cfg.Socket)
	if err != nil {
		return err
	}
	defer os.Remove(s.cfg.Socket)
	if err := os.Chmod(s.cfg.Socket, 0600); err != nil {
		l.Close()
		return err
	}
	return s.Serve(l)
}

// Serve accepts broker connections on l until the listener fails or
// Shutdown closes it. Connections still being served when Serve returns
// are torn down by Shutdown, not here.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		l.Close()
		return net.ErrClosed
	}
	s.listener = l
	s.mu.Unlock()

	s.log.Notice(fmt.Sprintf("listening on %s", l.Addr()))
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.shuttingDown() {
				return nil
			}
			return err
		}
		sc := &serverConn{
			srv:     s,
			t:       newTransport(conn),
			log:     s.log,
			waits:   semaphore.NewWeighted(int64(s.cfg.MaxWaits)),
			done:    make(chan struct{}),
			handles: make(map[uint64]sema),
		}
		if !s.track(sc) {
			conn.Close()
			return nil
		}
		go func() {
			defer s.connWg.Done()
			defer s.untrack(sc)
			sc.serve()
		}()
	}
}

// Shutdown stops accepting connections, disconnects every client and waits
// for their teardown to finish. Waits parked in the broker wake abnormally,
// so remote callers see EPERM rather than hanging on a dead daemon. The
// context bounds how long to wait for connections to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	l := s.listener
	conns := make([]*serverConn, 0, len(s.conns))
	for sc := range s.conns {
		conns = append(conns, sc)
	}
	s.mu.Unlock()

	if l != nil {
		l.Close()
	}
	for _, sc := range conns {
		sc.t.close()
	}

	done := make(chan struct{})
	go func() {
		s.connWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Notice("shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

func (s *Server) track(sc *serverConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return false
	}
	s.conns[sc] = struct{}{}
	s.connWg.Add(1)
	return true
}

func (s *Server) untrack(sc *serverConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, sc)
}

// serverConn is one client connection. Handles are connection scoped: the
// table maps wire handle IDs to registry references, and teardown closes
// whatever the client left open, so a crashed process never pins a name.
type serverConn struct {
	srv *Server
	t   *transport
	log *logger.Logger

	// waits bounds the blocking waits parked on behalf of this client.
	waits *semaphore.Weighted
	// done is closed at teardown to recall those parked waits.
	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	handles map[uint64]sema
	nextH   uint64
}

func (sc *serverConn) serve() {
	defer sc.teardown()
	if err := sc.hello(); err != nil {
		sc.log.Debug(fmt.Sprintf("handshake failed: %s", err))
		return
	}
	for {
		var req request
		if err := sc.t.receive(&req); err != nil {
			if !errors.Is(err, io.EOF) {
				sc.log.Debug(fmt.Sprintf("connection lost: %s", err))
			}
			return
		}
		sc.dispatch(req)
	}
}

// hello enforces the version exchange that opens every connection.
func (sc *serverConn) hello() error {
	var req request
	if err := sc.t.receive(&req); err != nil {
		return err
	}
	if req.Op != opHello {
		sc.respond(response{ID: req.ID, Status: stBadRequest, Err: "hello expected"})
		return fmt.Errorf("first frame carried op %d", req.Op)
	}
	if req.Value != protocolVersion {
		sc.respond(response{ID: req.ID, Status: stBadRequest, Err: fmt.Sprintf("protocol version %d not supported", req.Value)})
		return fmt.Errorf("protocol version %d not supported", req.Value)
	}
	sc.respond(response{ID: req.ID, Status: stOK})
	return nil
}

// dispatch runs every operation except waits inline on the reader
// goroutine; they complete immediately by construction. Waits park in
// their own goroutine so the connection stays responsive, in particular
// for the post that is supposed to wake them.
func (sc *serverConn) dispatch(req request) {
	switch req.Op {
	case opOpen:
		sc.respond(sc.handleOpen(req))
	case opCreate:
		sc.respond(sc.handleCreate(req))
	case opPost:
		sc.respond(sc.handlePost(req))
	case opClose:
		sc.respond(sc.handleClose(req))
	case opStat:
		sc.respond(sc.handleStat(req))
	case opNames:
		sc.respond(sc.handleNames(req))
	case opWait:
		sc.startWait(req)
	default:
		sc.respond(response{ID: req.ID, Status: stBadRequest, Err: "unknown op"})
	}
}

func (sc *serverConn) respond(resp response) {
	if err := sc.t.send(resp); err != nil {
		sc.log.Debug(fmt.Sprintf("send failed: %s", err))
	}
}

func (sc *serverConn) handleOpen(req request) response {
	if checkSemName(req.Name) != nil {
		return response{ID: req.ID, Status: stBadName}
	}
	ref, err := sc.srv.ns.open(req.Name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return response{ID: req.ID, Status: stNotFound}
		}
		return response{ID: req.ID, Status: stBadRequest, Err: err.Error()}
	}
	if sc.srv.cfg.Debug {
		sc.log.Debug(fmt.Sprintf("open %q", req.Name))
	}
	return response{ID: req.ID, Status: stOK, Handle: sc.addHandle(ref)}
}

func (sc *serverConn) handleCreate(req request) response {
	if checkSemName(req.Name) != nil {
		return response{ID: req.ID, Status: stBadName}
	}
	if req.Value > SemValueMax {
		return response{ID: req.ID, Status: stBadRequest, Err: "initial value exceeds maximum"}
	}
	ref, err := sc.srv.ns.create(req.Name, uint(req.Value), req.Excl)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrExist):
			return response{ID: req.ID, Status: stExists}
		case errors.Is(err, errRegistryFull):
			return response{ID: req.ID, Status: stLimit}
		}
		return response{ID: req.ID, Status: stBadRequest, Err: err.Error()}
	}
	if sc.srv.cfg.Debug {
		sc.log.Debug(fmt.Sprintf("create %q value=%d excl=%t", req.Name, req.Value, req.Excl))
	}
	return response{ID: req.ID, Status: stOK, Handle: sc.addHandle(ref)}
}

func (sc *serverConn) handlePost(req request) response {
	ref := sc.lookup(req.Handle)
	if ref == nil {
		return response{ID: req.ID, Status: stBadRequest, Err: "unknown handle"}
	}
	switch err := ref.post(); {
	case err == nil:
		return response{ID: req.ID, Status: stOK}
	case errors.Is(err, errOverflow):
		return response{ID: req.ID, Status: stOverflow}
	case errors.Is(err, errClosed):
		return response{ID: req.ID, Status: stClosed}
	default:
		return response{ID: req.ID, Status: stBadRequest, Err: err.Error()}
	}
}

func (sc *serverConn) handleClose(req request) response {
	sc.mu.Lock()
	ref, ok := sc.handles[req.Handle]
	if ok {
		delete(sc.handles, req.Handle)
	}
	sc.mu.Unlock()
	if !ok {
		return response{ID: req.ID, Status: stBadRequest, Err: "unknown handle"}
	}
	if err := ref.close(); err != nil {
		return response{ID: req.ID, Status: stBadRequest, Err: err.Error()}
	}
	return response{ID: req.ID, Status: stOK}
}

func (sc *serverConn) handleStat(req request) response {
	if checkSemName(req.Name) != nil {
		return response{ID: req.ID, Status: stBadName}
	}
	info, ok := sc.srv.reg.stat(namespacePrefix + req.Name)
	if !ok {
		return response{ID: req.ID, Status: stNotFound}
	}
	info.Name = req.Name
	return response{ID: req.ID, Status: stOK, Sems: []SemInfo{info}}
}

func (sc *serverConn) handleNames(req request) response {
	sems := sc.srv.reg.snapshot()
	for i := range sems {
		sems[i].Name = strings.TrimPrefix(sems[i].Name, namespacePrefix)
	}
	return response{ID: req.ID, Status: stOK, Sems: sems}
}

func (sc *serverConn) startWait(req request) {
	ref := sc.lookup(req.Handle)
	if ref == nil {
		sc.respond(response{ID: req.ID, Status: stBadRequest, Err: "unknown handle"})
		return
	}
	// A poll never parks, so it runs inline and stays outside the wait
	// bound.
	if req.TimeoutMS == 0 {
		sc.respond(waitResponse(req.ID, ref.wait(0, sc.done)))
		return
	}
	if !sc.waits.TryAcquire(1) {
		sc.respond(response{ID: req.ID, Status: stBusy, Err: "too many waits in flight"})
		return
	}
	sc.wg.Add(1)
	go func() {
		defer sc.wg.Done()
		defer sc.waits.Release(1)
		sc.respond(waitResponse(req.ID, ref.wait(waitTimeout(req.TimeoutMS), sc.done)))
	}()
}

func waitResponse(id uint64, st waitStatus) response {
	switch st {
	case waitSignaled:
		return response{ID: id, Status: stOK}
	case waitTimedOut:
		return response{ID: id, Status: stTimedOut}
	}
	return response{ID: id, Status: stClosed}
}

// teardown recalls parked waits, then releases every handle the client
// still held. Last references destroy their objects, waking waiters from
// other connections the way a process death would.
func (sc *serverConn) teardown() {
	close(sc.done)
	sc.wg.Wait()
	sc.mu.Lock()
	handles := sc.handles
	sc.handles = nil
	sc.mu.Unlock()
	for _, ref := range handles {
		ref.close()
	}
	sc.t.close()
	sc.log.Debug("connection closed")
}

func (sc *serverConn) addHandle(ref sema) uint64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.nextH++
	sc.handles[sc.nextH] = ref
	return sc.nextH
}

func (sc *serverConn) lookup(h uint64) sema {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.handles[h]
}

// waitTimeout converts a wire timeout back to a duration: negative blocks
// forever, zero polls.
func waitTimeout(ms int64) time.Duration {
	if ms < 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}
