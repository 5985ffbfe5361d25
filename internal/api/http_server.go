package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Corely-AI/pos-outbox-go/internal/application"
	"github.com/Corely-AI/pos-outbox-go/internal/config"
	"github.com/Corely-AI/pos-outbox-go/internal/domain"
	"github.com/Corely-AI/pos-outbox-go/internal/infrastructure/network"
)

// Server exposes the client surface: command enqueue, queue inspection,
// registered command types, manual sync triggers and the manual connectivity
// signal. Status mutation stays in the engine.
type Server struct {
	cfg      config.Config
	repo     domain.OutboxRepository
	registry *application.Registry
	enqueue  *application.EnqueueService
	engine   *application.SyncEngine
	monitor  *network.Monitor
	logger   *slog.Logger
}

func NewServer(
	cfg config.Config,
	repo domain.OutboxRepository,
	registry *application.Registry,
	enqueue *application.EnqueueService,
	engine *application.SyncEngine,
	monitor *network.Monitor,
	logger *slog.Logger,
) *Server {
	return &Server{
		cfg:      cfg,
		repo:     repo,
		registry: registry,
		enqueue:  enqueue,
		engine:   engine,
		monitor:  monitor,
		logger:   logger.With("component", "api"),
	}
}

// RegisterRoutes wires all HTTP routes onto the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/commands/types", s.handleCommandTypes)
	mux.HandleFunc("/api/outbox/", s.handleOutbox)
	mux.HandleFunc("/api/sync/", s.handleTriggerSync)
	mux.HandleFunc("/api/network", s.handleNetwork)
}

type healthResponse struct {
	Status  string `json:"status"`
	Network string `json:"network"`
}

type commandResponse struct {
	CommandID      string               `json:"commandId"`
	WorkspaceID    string               `json:"workspaceId"`
	Type           string               `json:"type"`
	IdempotencyKey string               `json:"idempotencyKey"`
	CreatedAtUtc   string               `json:"createdAtUtc"`
	Status         string               `json:"status"`
	Attempts       int                  `json:"attempts"`
	LastError      *string              `json:"lastError,omitempty"`
	Conflict       *domain.ConflictInfo `json:"conflict,omitempty"`
}

type networkRequest struct {
	Status string `json:"status"`
}

type enqueueRequest struct {
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

// Handler GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Network: string(s.monitor.Status()),
	})
}

// Handler GET /api/commands/types
func (s *Server) handleCommandTypes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.registry.Types())
}

// Handler GET/POST /api/outbox/{workspaceId}
func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	workspaceID := strings.TrimPrefix(r.URL.Path, "/api/outbox/")
	if workspaceID == "" || workspaceID == r.URL.Path {
		http.Error(w, "workspaceId is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.listOutbox(w, r, workspaceID)
	case http.MethodPost:
		s.enqueueCommand(w, r, workspaceID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET /api/outbox/{workspaceId}?status=PENDING
func (s *Server) listOutbox(w http.ResponseWriter, r *http.Request, workspaceID string) {
	var statuses []domain.CommandStatus
	if st := r.URL.Query().Get("status"); st != "" {
		switch domain.CommandStatus(st) {
		case domain.StatusPending, domain.StatusSyncing, domain.StatusSent, domain.StatusFailed:
			statuses = append(statuses, domain.CommandStatus(st))
		default:
			http.Error(w, "status is invalid", http.StatusBadRequest)
			return
		}
	}

	ctx := r.Context()
	cmds, err := s.repo.ListByWorkspace(ctx, workspaceID, statuses...)
	if err != nil {
		s.logger.ErrorContext(ctx, "list outbox failed", "workspaceId", workspaceID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]commandResponse, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, toCommandResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func toCommandResponse(c *domain.OutboxCommand) commandResponse {
	return commandResponse{
		CommandID:      c.ID.String(),
		WorkspaceID:    c.WorkspaceID,
		Type:           c.Type,
		IdempotencyKey: c.IdempotencyKey,
		CreatedAtUtc:   c.CreatedAtUtc.UTC().Format(time.RFC3339Nano),
		Status:         string(c.Status),
		Attempts:       c.Attempts,
		LastError:      c.LastError,
		Conflict:       c.Conflict,
	}
}

// POST /api/outbox/{workspaceId}: queue a command for sync.
func (s *Server) enqueueCommand(w http.ResponseWriter, r *http.Request, workspaceID string) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Type == "" || req.IdempotencyKey == "" {
		http.Error(w, "type and idempotencyKey are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	cmd, err := s.enqueue.Enqueue(ctx, workspaceID, req.Type, req.Payload, req.IdempotencyKey)
	switch {
	case errors.Is(err, domain.ErrDuplicateCommand):
		// Answer with the command already holding the key; safe for clients
		// replaying their own request.
		writeJSON(w, http.StatusOK, toCommandResponse(cmd))
		return
	case err != nil:
		var ipe *domain.InvalidPayloadError
		if errors.As(err, &ipe) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":      "invalid payload",
				"violations": ipe.Violations,
			})
			return
		}
		if errors.Is(err, domain.ErrUnknownCommandType) || errors.Is(err, domain.ErrMalformedIdempotencyKey) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.ErrorContext(ctx, "enqueue failed", "workspaceId", workspaceID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if s.monitor.Status() == domain.NetworkOnline {
		s.engine.TriggerSync(workspaceID)
	}
	writeJSON(w, http.StatusCreated, toCommandResponse(cmd))
}

// Handler POST /api/sync/{workspaceId}
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	workspaceID := strings.TrimPrefix(r.URL.Path, "/api/sync/")
	if workspaceID == "" || workspaceID == r.URL.Path {
		http.Error(w, "workspaceId is required", http.StatusBadRequest)
		return
	}

	s.engine.TriggerSync(workspaceID)
	w.WriteHeader(http.StatusAccepted)
}

// Handler POST /api/network: manual connectivity signal (retry-now path).
func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req networkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	switch domain.NetworkStatus(req.Status) {
	case domain.NetworkOnline, domain.NetworkOffline:
		s.monitor.SetStatus(domain.NetworkStatus(req.Status))
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "status must be ONLINE or OFFLINE", http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON error", "error", err)
	}
}
