// Package httpapi serves batch execution over HTTP.
//
//	POST /api/batch/{name}   body: flat batch, response: text/plain frames
//	GET  /api/status         JSON status of the host and its databases
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/tomyedwab/sqlbatch/audit"
	"github.com/tomyedwab/sqlbatch/batch"
	"github.com/tomyedwab/sqlbatch/handles"
	"github.com/tomyedwab/sqlbatch/sqlproxy/host"
	"github.com/tomyedwab/sqlbatch/sqlproxy/types"
)

// DefaultMaxBatchBytes caps request bodies when Config.MaxBatchBytes is 0.
const DefaultMaxBatchBytes = 16 << 20

// Config configures a Server.
type Config struct {
	Host          *host.SQLHost
	Databases     map[string]handles.Handle // Batches address databases by these names
	Secret        []byte                    // HS256 key for bearer tokens
	MaxBatchBytes int64
	Audit         *audit.Logger // Optional
	Logger        *slog.Logger
}

type Server struct {
	cfg    Config
	logger *slog.Logger
	mux    *http.ServeMux
}

func NewServer(cfg Config) *Server {
	if cfg.MaxBatchBytes <= 0 {
		cfg.MaxBatchBytes = DefaultMaxBatchBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger, mux: http.NewServeMux()}

	s.mux.HandleFunc("POST /api/batch/{name}", Chain(s.handleBatch,
		LoginRequired(cfg.Secret),
		EnableCrossOrigin,
		LogRequests(logger),
	))
	s.mux.HandleFunc("GET /api/status", Chain(s.handleStatus,
		LogRequests(logger),
	))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, resp interface{}, status int) {
	body, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Failed to encode response", "path", r.URL.Path, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, status int) {
	s.logger.Warn("Request failed", "path", r.URL.Path, "status", status, "error", err)
	resp := types.ErrorResponse{Error: err.Error()}
	var decodeErr *batch.DecodeError
	if errors.As(err, &decodeErr) {
		offset := decodeErr.Offset
		resp.Offset = &offset
		resp.Expected = decodeErr.Expected
	}
	s.writeJSON(w, r, resp, status)
}

func (s *Server) audit(r *http.Request, event audit.Event, err error) {
	if s.cfg.Audit == nil {
		return
	}
	event.Database = r.PathValue("name")
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		event.Subject = claims.Subject
	}
	event.TokenFingerprint = audit.Fingerprint([]byte(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")))
	if err != nil {
		event.Error = err.Error()
	}
	if aerr := s.cfg.Audit.Log(event); aerr != nil {
		s.logger.Error("Failed to write audit event", "event", event.EventType, "error", aerr)
	}
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if claims, ok := ClaimsFromContext(r.Context()); !ok || !claims.Allows(name) {
		s.audit(r, audit.Event{EventType: string(audit.EventAccessDenied)}, nil)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	db, ok := s.cfg.Databases[name]
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	input, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBatchBytes))
	if err != nil {
		s.audit(r, audit.Event{EventType: string(audit.EventBatchRejected), InputBytes: len(input)}, err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, err, http.StatusRequestEntityTooLarge)
			return
		}
		s.writeError(w, r, err, http.StatusBadRequest)
		return
	}
	event := audit.Event{
		InputBytes:       len(input),
		InputFingerprint: audit.Fingerprint(input),
	}

	session, err := s.cfg.Host.NewSession(db)
	if err != nil {
		event.EventType = string(audit.EventBatchFailed)
		s.audit(r, event, err)
		s.writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	defer s.cfg.Host.DisposeSession(session)
	event.SessionID, _ = s.cfg.Host.SessionID(session)

	out, err := s.cfg.Host.Run(session, input)
	if err != nil {
		status := http.StatusInternalServerError
		event.EventType = string(audit.EventBatchFailed)
		if batch.IsDecodeError(err) {
			status = http.StatusBadRequest
			event.EventType = string(audit.EventBatchRejected)
		}
		s.audit(r, event, err)
		s.writeError(w, r, err, status)
		return
	}
	event.EventType = string(audit.EventBatchRun)
	event.OutputBytes = len(out)
	s.audit(r, event, nil)

	w.Header().Set("X-Session-Id", event.SessionID)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	version, _, _ := sqlite3.Version()
	resp := types.StatusResponse{
		APIVersion:    types.APIVersion,
		SQLiteVersion: version,
		Databases:     s.cfg.Host.Databases(),
	}
	for i := range resp.Databases {
		db, err := s.cfg.Host.Inspect(handles.Handle(resp.Databases[i].Handle))
		if err != nil {
			continue
		}
		db.Get(&resp.SQLiteVersion, "SELECT sqlite_version()")
		if err := db.Get(&resp.Databases[i].Tables, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'"); err != nil {
			s.logger.Warn("Failed to inspect database", "name", resp.Databases[i].Name, "error", err)
		}
	}
	s.writeJSON(w, r, resp, http.StatusOK)
}
