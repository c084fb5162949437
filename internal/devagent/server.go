// Package devagent is a local agent backend speaking the same event stream
// protocol as the production agent. Turns are answered by a Model, normally
// the Anthropic Messages API.
package devagent

import (
	"cmp"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"brewchat/internal/agent/session"
	"brewchat/internal/agui"
	"brewchat/internal/stream"
)

const (
	defaultMaxBodyBytes = 4 << 20
	generateStep        = "generate"
	modelErrorCode      = "model_error"
)

// ErrModelRequired is returned by NewServer without a model.
var ErrModelRequired = errors.New("dev agent model is required")

// Config configures a Server.
type Config struct {
	Model Model
	// Threads defaults to a fresh in-memory store.
	Threads *MemoryThreads
	// System is prepended to every model turn.
	System       string
	MaxBodyBytes int64
}

// Server routes agent runs and thread storage requests.
type Server struct {
	model   Model
	threads *MemoryThreads
	system  string
	maxBody int64
	mux     *http.ServeMux
}

// NewServer builds the HTTP handler.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Model == nil {
		return nil, ErrModelRequired
	}
	s := &Server{
		model:   cfg.Model,
		threads: cfg.Threads,
		system:  strings.TrimSpace(cfg.System),
		maxBody: cfg.MaxBodyBytes,
		mux:     http.NewServeMux(),
	}
	if s.threads == nil {
		s.threads = NewMemoryThreads()
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBodyBytes
	}

	s.mux.HandleFunc("POST /agent/run", s.handleRun)
	s.mux.HandleFunc("GET /threads", s.handleListThreads)
	s.mux.HandleFunc("GET /threads/{id}", s.handleGetThread)
	s.mux.HandleFunc("DELETE /threads/{id}", s.handleDeleteThread)
	return s, nil
}

// Threads exposes the backing store.
func (s *Server) Threads() *MemoryThreads { return s.threads }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cfg agui.RunConfig
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody)).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid run config: "+err.Error())
		return
	}

	threadID := cmp.Or(strings.TrimSpace(cfg.ThreadID), uuid.NewString())
	runID := cmp.Or(strings.TrimSpace(cfg.RunID), uuid.NewString())
	log.Info(ctx,
		log.KV{K: "msg", V: "agent run"},
		log.KV{K: "thread", V: threadID},
		log.KV{K: "run", V: runID},
		log.KV{K: "messages", V: len(cfg.Messages)},
		log.KV{K: "tools", V: len(cfg.Tools)},
	)

	out := stream.NewWriter(w)
	state := session.Loaded(cfg.Messages, threadID)
	send := func(ev agui.Event) error {
		if err := out.Send(ev); err != nil {
			return err
		}
		state = session.Reduce(state, ev)
		return nil
	}

	if err := send(&agui.RunStarted{ThreadID: threadID, RunID: runID}); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "write run start"})
		return
	}
	if cfg.State != nil {
		if err := send(&agui.StateSnapshot{Snapshot: cfg.State}); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "write state snapshot"})
			return
		}
	}

	turn := Turn{
		System:   s.systemPrompt(cfg.State),
		Messages: cfg.Messages,
		Tools:    cfg.Tools,
	}
	err := send(&agui.StepStarted{StepName: generateStep})
	if err == nil {
		err = s.model.Stream(ctx, turn, send)
	}

	switch {
	case err == nil:
		if err := send(&agui.StepFinished{StepName: generateStep}); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "write step finish"})
			return
		}
		if err := send(&agui.RunFinished{ThreadID: threadID, RunID: runID}); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "write run finish"})
			return
		}
	case ctx.Err() != nil:
		log.Info(ctx, log.KV{K: "msg", V: "client went away"}, log.KV{K: "run", V: runID})
		return
	default:
		log.Error(ctx, err, log.KV{K: "msg", V: "model turn failed"}, log.KV{K: "run", V: runID})
		if sendErr := send(&agui.RunError{Message: err.Error(), Code: modelErrorCode}); sendErr != nil {
			return
		}
	}

	if err := out.Done(); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "write done sentinel"})
	}
	s.threads.Save(threadID, state.Messages)
}

func (s *Server) systemPrompt(shared any) string {
	if shared == nil {
		return s.system
	}
	raw, err := json.Marshal(shared)
	if err != nil {
		return s.system
	}
	prompt := "Current shared state (JSON): " + string(raw)
	if s.system == "" {
		return prompt
	}
	return s.system + "\n\n" + prompt
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	_ = r
	writeJSON(w, http.StatusOK, s.threads.List())
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	thread, ok := s.threads.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	if !s.threads.Delete(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
