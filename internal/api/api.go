// Package api provides the HTTP transport for the ReflectLoop interview
// engine.
//
// It exposes RESTful endpoints for starting an interview, submitting
// answers, ending and resuming sessions, and downloading the conversation
// transcript. The API wires together the store, GenAI ports, and the flow
// engine.
package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ReflectLoop/ReflectLoop/internal/catalog"
	"github.com/ReflectLoop/ReflectLoop/internal/flow"
	"github.com/ReflectLoop/ReflectLoop/internal/genai"
	"github.com/ReflectLoop/ReflectLoop/internal/store"
	"github.com/gorilla/mux"
)

// DefaultAddr is the address the API server listens on when none is configured.
const DefaultAddr = ":8080"

// Opts holds API server configuration options.
type Opts struct {
	Addr string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address, overriding $API_ADDR.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server holds the HTTP server and its collaborators.
type Server struct {
	addr   string
	engine *flow.Engine
	st     store.Store
}

// NewServer creates an API server around an existing engine and store.
func NewServer(engine *flow.Engine, st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{addr: addr, engine: engine, st: st}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/interviews", s.startInterviewHandler).Methods(http.MethodPost)
	r.HandleFunc("/interviews/answer", s.answerHandler).Methods(http.MethodPost)
	r.HandleFunc("/interviews/{id}", s.getConversationHandler).Methods(http.MethodGet)
	r.HandleFunc("/interviews/{id}/end", s.endSessionHandler).Methods(http.MethodPost)
	r.HandleFunc("/interviews/{id}/resume", s.resumeSessionHandler).Methods(http.MethodPost)
	r.HandleFunc("/interviews/{id}/transcript", s.transcriptHandler).Methods(http.MethodGet)
	return r
}

// Run assembles the store, GenAI ports, engine, and HTTP server from the
// given options and serves until the listener fails.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	st, err := store.NewStore(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	client, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize GenAI client: %w", err)
	}

	engine := flow.NewEngine(st, catalog.Default(), flow.NewGenAIClassifier(client), flow.NewGenAIGenerator(client))
	server := NewServer(engine, st, apiOpts...)

	slog.Info("ReflectLoop API running", "addr", server.addr)
	return http.ListenAndServe(server.addr, server.Router())
}
