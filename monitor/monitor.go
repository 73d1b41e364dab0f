//go:build !tinygo && !baremetal

// Package monitor serves the state of running sessions over HTTP and streams
// range reports to WebSocket clients.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ystepanoff/uwbtwr/internal/util"
	"github.com/ystepanoff/uwbtwr/transport"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = 5 * time.Second
	writeTimeout           = time.Second

	stateBuffer  = 4
	reportBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NodeState is the published snapshot of one named session.
type NodeState struct {
	Name  string             `json:"name"`
	State transport.Snapshot `json:"state"`
}

// Server is the monitoring surface. Sessions are never touched directly:
// the simulation loop hands over snapshots and reports through Publish and
// Report, and a pump goroutine applies them.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server

	states  chan []NodeState
	reports chan transport.RangeReport
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.RWMutex
	latest  []NodeState
	history []transport.RangeReport
	clients map[*websocket.Conn]struct{}
	dropped int
}

// New creates a monitor that will listen on addr (":0" picks a free port).
func New(addr string) *Server {
	return &Server{
		addr:    addr,
		states:  make(chan []NodeState, stateBuffer),
		reports: make(chan transport.RangeReport, reportBuffer),
		done:    make(chan struct{}),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Publish queues a new set of snapshots. It never blocks; when the pump is
// behind the update is dropped and the next one replaces it.
func (s *Server) Publish(states []NodeState) {
	select {
	case s.states <- states:
	default:
		s.countDrop()
	}
}

// Report queues a range report for the WebSocket clients. It never blocks.
func (s *Server) Report(r transport.RangeReport) {
	select {
	case s.reports <- r:
	default:
		s.countDrop()
	}
}

func (s *Server) countDrop() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: time.Second,
	}

	s.wg.Add(1)
	go s.pump()

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("monitor server error: %v", err)
		}
	}()

	util.LogInfo("monitor listening on http://%s", listener.Addr())
	return nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down and disconnects every client.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	close(s.done)
	s.wg.Wait()

	s.mu.Lock()
	for conn := range s.clients {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "monitor stopped"),
			time.Now().Add(writeTimeout))
		conn.Close()
		delete(s.clients, conn)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown monitor: %w", err)
	}
	s.httpServer = nil
	return nil
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/state", s.handleState)
	r.Get("/state/{name}", s.handleNode)
	r.Get("/devices", s.handleDevices)
	r.Get("/ranges", s.handleRanges)
	r.Get("/ws", s.handleWS)

	return r
}

func (s *Server) pump() {
	defer s.wg.Done()
	for {
		select {
		case st := <-s.states:
			s.apply(st)
		case r := <-s.reports:
			s.broadcast(r)
		case <-s.done:
			return
		}
	}
}

func (s *Server) apply(states []NodeState) {
	s.mu.Lock()
	s.latest = states
	s.mu.Unlock()
}

func (s *Server) broadcast(r transport.RangeReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, r)
	if len(s.history) > reportBuffer {
		s.history = s.history[len(s.history)-reportBuffer:]
	}
	for conn := range s.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(r); err != nil {
			util.LogDebug("monitor client %s dropped: %v", conn.RemoteAddr(), err)
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.LogWarning("monitor: encoding response: %v", err)
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Nodes   int    `json:"nodes"`
	Clients int    `json:"clients"`
	Dropped int    `json:"dropped"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := healthResponse{Status: "ok", Nodes: len(s.latest), Clients: len(s.clients), Dropped: s.dropped}
	s.mu.RUnlock()
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	states := s.latest
	s.mu.RUnlock()
	if states == nil {
		states = []NodeState{}
	}
	s.writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var (
		node  NodeState
		found bool
	)
	s.mu.RLock()
	for _, st := range s.latest {
		if st.Name == name {
			node, found = st, true
			break
		}
	}
	s.mu.RUnlock()

	if !found {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("no node %q", name)})
		return
	}
	s.writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	out := make(map[string]interface{}, len(s.latest))
	for _, st := range s.latest {
		out[st.Name] = st.State.Devices
	}
	s.mu.RUnlock()
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRanges(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	out := append([]transport.RangeReport{}, s.history...)
	s.mu.RUnlock()
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()
	util.LogDebug("monitor client %s connected", conn.RemoteAddr())

	// Clients only listen; reading detects the close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.mu.Lock()
				if _, ok := s.clients[conn]; ok {
					conn.Close()
					delete(s.clients, conn)
				}
				s.mu.Unlock()
				return
			}
		}
	}()
}
