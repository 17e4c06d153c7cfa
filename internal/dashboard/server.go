// Package dashboard is the command store's write path: a small JSON
// HTTP API the operator dashboard talks to. Every command write is
// validated here, so the engine's match path never sees an invalid
// pattern or an empty trigger.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keshon/guildscript/internal/domain"
	"github.com/keshon/guildscript/internal/storage"
)

// Server hosts the dashboard API.
type Server struct {
	store *storage.Storage
	addr  string
	log   zerolog.Logger
}

func NewServer(addr string, store *storage.Storage, log zerolog.Logger) *Server {
	return &Server{
		store: store,
		addr:  addr,
		log:   log.With().Str("component", "dashboard").Logger(),
	}
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /guilds/{guildID}/commands", s.handleListCommands)
	mux.HandleFunc("POST /guilds/{guildID}/commands", s.handleCreateCommand)
	mux.HandleFunc("GET /guilds/{guildID}/commands/{id}", s.handleGetCommand)
	mux.HandleFunc("PUT /guilds/{guildID}/commands/{id}", s.handleUpdateCommand)
	mux.HandleFunc("DELETE /guilds/{guildID}/commands/{id}", s.handleDeleteCommand)
	mux.HandleFunc("GET /guilds/{guildID}/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /guilds/{guildID}/settings", s.handlePutSettings)
	mux.HandleFunc("GET /guilds/{guildID}/audit", s.handleAudit)
	return mux
}

// Run starts the HTTP server and blocks until it exits or ctx is
// cancelled; run in a goroutine.
func (s *Server) Run(ctx context.Context) {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down dashboard server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	s.log.Info().Str("addr", s.addr).Msg("dashboard API listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		// Log the error but do not kill the whole process.
		s.log.Error().Err(err).Msg("dashboard server exited")
	}
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	cmds, err := s.store.ListCommands(r.PathValue("guildID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if cmds == nil {
		cmds = []domain.Command{}
	}
	writeJSON(w, http.StatusOK, cmds)
}

func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := s.store.GetCommand(r.PathValue("guildID"), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

func (s *Server) handleCreateCommand(w http.ResponseWriter, r *http.Request) {
	var cmd domain.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cmd.ID = uuid.NewString()
	if err := s.store.SaveCommand(r.PathValue("guildID"), cmd); err != nil {
		s.fail(w, err)
		return
	}
	saved, err := s.store.GetCommand(r.PathValue("guildID"), cmd.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleUpdateCommand(w http.ResponseWriter, r *http.Request) {
	var cmd domain.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// Full overwrite by id; the path wins over any id in the body.
	cmd.ID = r.PathValue("id")
	if err := s.store.SaveCommand(r.PathValue("guildID"), cmd); err != nil {
		s.fail(w, err)
		return
	}
	saved, err := s.store.GetCommand(r.PathValue("guildID"), cmd.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteCommand(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCommand(r.PathValue("guildID"), r.PathValue("id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type settingsPayload struct {
	Prefix         string `json:"prefix"`
	FirstMatchOnly bool   `json:"first_match_only"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	guildID := r.PathValue("guildID")
	prefix, err := s.store.GetPrefix(guildID)
	if err != nil {
		s.fail(w, err)
		return
	}
	firstOnly, err := s.store.FirstMatchOnly(guildID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsPayload{Prefix: prefix, FirstMatchOnly: firstOnly})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var p settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	guildID := r.PathValue("guildID")
	if err := s.store.SetPrefix(guildID, p.Prefix); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.store.SetFirstMatchOnly(guildID, p.FirstMatchOnly); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.FetchAudit(r.PathValue("guildID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// fail maps store errors to HTTP statuses: missing records are 404,
// store faults are 503 and everything else is a validation failure.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		s.log.Error().Err(err).Msg("store unavailable")
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
