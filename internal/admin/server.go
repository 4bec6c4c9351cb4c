package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"ringkv/internal/address"
	"ringkv/internal/node"
	"ringkv/internal/replication"
	"ringkv/internal/storage"
)

// Backend is the node the API serves.
type Backend interface {
	Status() node.Status
	Replicas(key string) []address.Address
	KeyPosition(key string) uint32
	LocalData() []storage.KeyValue
	Create(key, value string) (int64, error)
	Read(key string) (int64, error)
	Update(key, value string) (int64, error)
	Delete(key string) (int64, error)
}

// Server is the admin HTTP API.
type Server struct {
	backend Backend
	results *Results
	metrics http.Handler
	log     *logrus.Entry
	router  *mux.Router
}

// NewServer builds the router. results and metrics may be nil.
func NewServer(backend Backend, results *Results, metrics http.Handler, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		backend: backend,
		results: results,
		metrics: metrics,
		log:     log.WithField("component", "admin"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.logRequests)

	if s.metrics != nil {
		router.Handle("/metrics", s.metrics).Methods("GET")
	}

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/members", s.handleMembers).Methods("GET")
	router.HandleFunc("/ring", s.handleRing).Methods("GET")
	router.HandleFunc("/ring/{key}", s.handleRingKey).Methods("GET")
	router.HandleFunc("/store", s.handleStore).Methods("GET")
	router.HandleFunc("/tx/{id:[0-9]+}", s.handleTx).Methods("GET")

	kv := router.PathPrefix("/kv").Subrouter()
	kv.HandleFunc("/{key}", s.handleCreate).Methods("POST")
	kv.HandleFunc("/{key}", s.handleRead).Methods("GET")
	kv.HandleFunc("/{key}", s.handleUpdate).Methods("PUT")
	kv.HandleFunc("/{key}", s.handleDelete).Methods("DELETE")

	return router
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("Admin API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status_code": rw.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("HTTP request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

type memberJSON struct {
	Address   string `json:"address"`
	Heartbeat int64  `json:"heartbeat"`
	Timestamp int64  `json:"timestamp"`
}

type statusJSON struct {
	Node             string `json:"node"`
	State            string `json:"state"`
	Heartbeat        int64  `json:"heartbeat"`
	Tick             int64  `json:"tick"`
	Members          int    `json:"members"`
	RingSize         int    `json:"ring_size"`
	OpenTransactions int    `json:"open_transactions"`
	StoredKeys       int    `json:"stored_keys"`
}

type ringNodeJSON struct {
	Address  string `json:"address"`
	Position uint32 `json:"position"`
}

type ringKeyJSON struct {
	Key      string   `json:"key"`
	Position uint32   `json:"position"`
	Replicas []string `json:"replicas"`
}

type entryJSON struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Role  string `json:"role"`
}

type txJSON struct {
	TxID     int64  `json:"tx"`
	Op       string `json:"op"`
	Key      string `json:"key"`
	Value    string `json:"value,omitempty"`
	Success  *bool  `json:"success,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
	Pending  bool   `json:"pending,omitempty"`
}

type valueRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.backend.Status()
	writeJSON(w, http.StatusOK, statusJSON{
		Node:             st.Self.String(),
		State:            st.State.String(),
		Heartbeat:        st.Heartbeat,
		Tick:             st.Tick,
		Members:          len(st.Members),
		RingSize:         len(st.Ring),
		OpenTransactions: st.OpenTransactions,
		StoredKeys:       st.StoredKeys,
	})
}

func (s *Server) handleMembers(w http.ResponseWriter, _ *http.Request) {
	st := s.backend.Status()
	out := make([]memberJSON, 0, len(st.Members))
	for _, m := range st.Members {
		out = append(out, memberJSON{Address: m.Addr.String(), Heartbeat: m.Heartbeat, Timestamp: m.Timestamp})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRing(w http.ResponseWriter, _ *http.Request) {
	st := s.backend.Status()
	out := make([]ringNodeJSON, 0, len(st.Ring))
	for i, a := range st.Ring {
		out = append(out, ringNodeJSON{Address: a.String(), Position: st.Positions[i]})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRingKey(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	replicas := s.backend.Replicas(key)
	if len(replicas) == 0 {
		writeError(w, http.StatusServiceUnavailable, replication.ErrInsufficientReplicas)
		return
	}
	writeJSON(w, http.StatusOK, ringKeyJSON{Key: key, Position: s.backend.KeyPosition(key), Replicas: addrs(replicas)})
}

func (s *Server) handleStore(w http.ResponseWriter, _ *http.Request) {
	rows := s.backend.LocalData()
	out := make([]entryJSON, 0, len(rows))
	for _, row := range rows {
		out = append(out, entryJSON{Key: row.Key, Value: row.Value, Role: row.Role.String()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTx(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		http.Error(w, "results are not recorded", http.StatusNotFound)
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, ok := s.results.Get(id)
	if !ok {
		writeJSON(w, http.StatusOK, txJSON{TxID: id, Pending: true})
		return
	}
	success := res.Success
	writeJSON(w, http.StatusOK, txJSON{
		TxID:     res.TxID,
		Op:       res.Op.String(),
		Key:      res.Key,
		Value:    res.Value,
		Success:  &success,
		TimedOut: res.TimedOut,
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	value, ok := decodeValue(w, r)
	if !ok {
		return
	}
	id, err := s.backend.Create(key, value)
	s.accepted(w, "CREATE", key, id, err)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	id, err := s.backend.Read(key)
	s.accepted(w, "READ", key, id, err)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	value, ok := decodeValue(w, r)
	if !ok {
		return
	}
	id, err := s.backend.Update(key, value)
	s.accepted(w, "UPDATE", key, id, err)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	id, err := s.backend.Delete(key)
	s.accepted(w, "DELETE", key, id, err)
}

func (s *Server) accepted(w http.ResponseWriter, op, key string, id int64, err error) {
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, replication.ErrInsufficientReplicas) || errors.Is(err, node.ErrStopped) {
			status = http.StatusServiceUnavailable
		}
		s.log.WithError(err).WithFields(logrus.Fields{"op": op, "key": key}).Warn("Operation rejected")
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusAccepted, txJSON{TxID: id, Op: op, Key: key, Pending: true})
}

func decodeValue(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req valueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return "", false
	}
	return req.Value, true
}

func addrs(list []address.Address) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.String())
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
