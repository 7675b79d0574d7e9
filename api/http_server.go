package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/kutluhann/kademlia-dht/dht"
	"github.com/kutluhann/kademlia-dht/id_tools"
)

// StoreRequest is the body of POST /store.
type StoreRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type StoreResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	KeyHash string `json:"key_hash"`
}

// GetRequest is the body of POST /get.
type GetRequest struct {
	Key string `json:"key"`
}

type GetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	KeyHash string `json:"key_hash"`
	Value   string `json:"value,omitempty"`
}

type StatusResponse struct {
	NodeID     string `json:"node_id"`
	IP         string `json:"ip"`
	Port       uint16 `json:"port"`
	StoredKeys int    `json:"stored_keys"`
	KnownPeers int    `json:"known_peers"`
	Pending    int    `json:"pending_rpcs"`
}

// BucketInfo describes one non-empty bucket of the routing table.
type BucketInfo struct {
	Index    int           `json:"index"`
	Contacts []dht.Contact `json:"contacts"`
}

type RoutingTableResponse struct {
	Self    dht.Contact  `json:"self"`
	Buckets []BucketInfo `json:"buckets"`
}

type FindNodeResponse struct {
	Target   string        `json:"target"`
	Contacts []dht.Contact `json:"contacts"`
}

// HTTPServer exposes a node to local clients over HTTP.
type HTTPServer struct {
	Node   *dht.Node
	Port   int
	logger log.Logger
	server *http.Server
}

func NewHTTPServer(node *dht.Node, port int) *HTTPServer {
	return &HTTPServer{
		Node:   node,
		Port:   port,
		logger: log.New("component", "http"),
	}
}

// Handler returns the router serving the client endpoints.
func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		render.SetContentType(render.ContentTypeJSON),
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)

	r.Post("/store", s.handleStore)
	r.Post("/get", s.handleGet)
	r.Get("/find-node/{id}", s.handleFindNode)
	r.Get("/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	r.Get("/routing-table", s.handleRoutingTable)
	return r
}

// Start serves until Shutdown is called.
func (s *HTTPServer) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting HTTP server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleStore(w http.ResponseWriter, r *http.Request) {
	var req StoreRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Key == "" || req.Value == "" {
		s.fail(w, r, http.StatusBadRequest, "key and value are required")
		return
	}

	keyHash := id_tools.KeyID(req.Key).String()
	s.logger.Debug("Store request", "key", req.Key, "hash", keyHash, "size", len(req.Value))

	if err := s.Node.Store(r.Context(), req.Key, []byte(req.Value)); err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, StoreResponse{
			Message: fmt.Sprintf("failed to store: %v", err),
			KeyHash: keyHash,
		})
		return
	}
	render.JSON(w, r, StoreResponse{
		Success: true,
		Message: "stored",
		KeyHash: keyHash,
	})
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	var req GetRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Key == "" {
		s.fail(w, r, http.StatusBadRequest, "key is required")
		return
	}

	keyHash := id_tools.KeyID(req.Key).String()
	value, err := s.Node.FindValue(r.Context(), req.Key)
	switch {
	case errors.Is(err, dht.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, GetResponse{Message: "key not found", KeyHash: keyHash})
		return
	case err != nil:
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, GetResponse{Message: err.Error(), KeyHash: keyHash})
		return
	}
	render.JSON(w, r, GetResponse{
		Success: true,
		KeyHash: keyHash,
		Value:   string(value),
	})
}

func (s *HTTPServer) handleFindNode(w http.ResponseWriter, r *http.Request) {
	target, err := id_tools.ParsePeerID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	contacts, err := s.Node.FindNode(r.Context(), target)
	if err != nil && !errors.Is(err, dht.ErrNoContacts) {
		s.fail(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if contacts == nil {
		contacts = []dht.Contact{}
	}
	render.JSON(w, r, FindNodeResponse{Target: target.String(), Contacts: contacts})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	self := s.Node.SelfContact()
	render.JSON(w, r, StatusResponse{
		NodeID:     self.ID.String(),
		IP:         self.IP,
		Port:       self.Port,
		StoredKeys: s.Node.Storage.Len(),
		KnownPeers: s.Node.RoutingTable.Len(),
		Pending:    s.Node.PendingRPCs(),
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "healthy"})
}

func (s *HTTPServer) handleRoutingTable(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	buckets := s.Node.RoutingTable.Buckets()
	resp := RoutingTableResponse{
		Self:    s.Node.SelfContact(),
		Buckets: make([]BucketInfo, 0, len(buckets)),
	}
	for _, index := range s.Node.RoutingTable.BucketIndices() {
		if contacts := buckets[index]; len(contacts) > 0 {
			resp.Buckets = append(resp.Buckets, BucketInfo{Index: index, Contacts: contacts})
		}
	}
	render.JSON(w, r, resp)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}
