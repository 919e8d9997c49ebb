package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/aereaux/synapse/internal/logger"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var log = logger.New("rpc")

// wireCommand is the JSON-over-HTTP request body; Kind selects which payload
// field the client filled in.
type wireCommand struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the HTTP+websocket RPC transport: commands arrive over HTTP POST
// endpoints routed by gorilla/mux, and CtlMessage publications fan out to
// every connected gorilla/websocket client (spec.md §4.4's RPC push model,
// adapted from starsinc1708-TorrX's websocket status feed).
type Server struct {
	httpServer *http.Server
	router     *mux.Router

	mu      sync.Mutex
	clients map[*websocket.Conn]chan CtlMessage
}

// NewServer builds a Server bound to addr. Commands decoded off the wire are
// sent on commands; the caller must drain commands and feed Publish.
func NewServer(addr string, commands chan<- Message) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		clients: make(map[*websocket.Conn]chan CtlMessage),
	}
	s.routes(commands)
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s
}

func (s *Server) routes(commands chan<- Message) {
	s.router.HandleFunc("/torrents", s.handleAddTorrent(commands)).Methods(http.MethodPost)
	s.router.HandleFunc("/torrents/{id}", s.handleUpdateTorrent(commands)).Methods(http.MethodPut)
	s.router.HandleFunc("/torrents/{id}", s.handleRemoveTorrent(commands)).Methods(http.MethodDelete)
	s.router.HandleFunc("/torrents/{id}/pause", s.handlePause(commands)).Methods(http.MethodPost)
	s.router.HandleFunc("/torrents/{id}/resume", s.handleResume(commands)).Methods(http.MethodPost)
	s.router.HandleFunc("/torrents/{id}/validate", s.handleValidate(commands)).Methods(http.MethodPost)
	s.router.HandleFunc("/torrents/{id}/peers/{peerID}", s.handleRemovePeer(commands)).Methods(http.MethodDelete)
	s.router.HandleFunc("/torrents/{id}/trackers/{trackerID}", s.handleRemoveTracker(commands)).Methods(http.MethodDelete)
	s.router.HandleFunc("/server", s.handleUpdateServer(commands)).Methods(http.MethodPut)
	s.router.HandleFunc("/ws", s.handleWebsocket)
}

func (s *Server) handleAddTorrent(commands chan<- Message) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cmd AddTorrentCmd
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		commands <- Message{Kind: CmdAddTorrent, AddTorrent: cmd}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleUpdateTorrent(commands chan<- Message) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var fields map[string]string
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		commands <- Message{Kind: CmdUpdateTorrent, UpdateTorrent: UpdateTorrentCmd{ID: id, Fields: fields}}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleRemoveTorrent(commands chan<- Message) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		commands <- Message{Kind: CmdRemoveTorrent, RemoveTorrent: IDCmd{ID: id}}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handlePause(commands chan<- Message) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		commands <- Message{Kind: CmdPause, Pause: IDCmd{ID: id}}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleResume(commands chan<- Message) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		commands <- Message{Kind: CmdResume, Resume: IDCmd{ID: id}}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleValidate(commands chan<- Message) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		commands <- Message{Kind: CmdValidate, Validate: ValidateCmd{IDs: []string{id}}}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleRemovePeer(commands chan<- Message) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := mux.Vars(r)
		commands <- Message{Kind: CmdRemovePeer, RemovePeer: PeerCmd{ID: v["peerID"], TorrentID: v["id"]}}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleRemoveTracker(commands chan<- Message) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := mux.Vars(r)
		commands <- Message{Kind: CmdRemoveTracker, RemoveTracker: PeerCmd{ID: v["trackerID"], TorrentID: v["id"]}}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleUpdateServer(commands chan<- Message) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cmd UpdateServerCmd
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		commands <- Message{Kind: CmdUpdateServer, UpdateServer: cmd}
		w.WriteHeader(http.StatusAccepted)
	}
}

// handleWebsocket upgrades the connection and registers it as a publish
// target; it blocks relaying CtlMessages until the client disconnects.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warningf("rpc: websocket upgrade failed: %s", err)
		return
	}
	feed := make(chan CtlMessage, 64)
	s.mu.Lock()
	s.clients[conn] = feed
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for msg := range feed {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// Publish fans out msg to every connected websocket client, dropping it for
// any client whose feed is full rather than blocking the control loop.
func (s *Server) Publish(msg CtlMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, feed := range s.clients {
		select {
		case feed <- msg:
		default:
			log.Warningln("rpc: dropping publication to slow client")
		}
	}
}

// Run starts serving until ctx is cancelled, then gracefully shuts down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- errors.Wrap(err, "rpc listen")
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.mu.Lock()
		for conn, feed := range s.clients {
			close(feed)
			conn.Close()
		}
		s.mu.Unlock()
		return s.httpServer.Close()
	case err := <-errCh:
		return err
	}
}
