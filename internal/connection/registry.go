package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mkarlsen/chatstream/internal/endpoint"
)

// EndpointResolver produces the streaming endpoint URL from the base
// service address.
type EndpointResolver func(base string) (string, error)

// RegistryConfig configures the connection Registry.
type RegistryConfig struct {
	ServiceURL    string           // base service address
	IntegrationID string           // integration identifier header value
	Resolve       EndpointResolver // nil means endpoint.Resolve
	Connection    Config           // per-connection settings; URL and credential are filled in per call
}

// Registry owns at most one connection per conversation. A connection is
// reused while the turn matches and the socket is healthy, and torn down
// and replaced otherwise.
type Registry struct {
	cfg     RegistryConfig
	resolve EndpointResolver
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*registryEntry
}

// registryEntry pairs the turn that currently owns the connection with the
// connection itself. Never reused across a turn change.
type registryEntry struct {
	turnID string
	conn   *Conn
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg RegistryConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	resolve := cfg.Resolve
	if resolve == nil {
		resolve = endpoint.Resolve
	}
	return &Registry{
		cfg:     cfg,
		resolve: resolve,
		logger:  logger,
		entries: make(map[string]*registryEntry),
	}
}

// GetOrCreate returns an open connection for (conversationID, turnID). An
// existing entry is reused only when its turn matches and the socket is
// healthy; any other entry is disposed and replaced. The credential is used
// for this dial only and never cached. On handshake failure the entry is
// removed and the error returned; the registry never retains a half-open
// entry.
func (g *Registry) GetOrCreate(ctx context.Context, conversationID, turnID, credential string) (*Conn, error) {
	g.mu.Lock()
	if e, ok := g.entries[conversationID]; ok {
		if e.turnID == turnID && e.conn.IsOpen() {
			g.mu.Unlock()
			return e.conn, nil
		}
		delete(g.entries, conversationID)
		g.mu.Unlock()
		g.logger.Debug("replacing stale connection",
			"conversation", conversationID,
			"old_turn", e.turnID,
			"new_turn", turnID,
		)
		e.conn.Dispose()
		g.mu.Lock()
	}

	url, err := g.resolve(g.cfg.ServiceURL)
	if err != nil {
		g.mu.Unlock()
		return nil, fmt.Errorf("resolve streaming endpoint: %w", err)
	}

	cfg := g.cfg.Connection
	cfg.URL = url
	cfg.Credential = credential
	cfg.IntegrationID = g.cfg.IntegrationID

	conn := NewConn(cfg, g.logger.With("conversation", conversationID, "turn", turnID))
	conn.onDispose = func() {
		// Self-disposal (socket error, peer close) must deregister the
		// entry even when the Registry did not initiate it.
		g.remove(conversationID, conn)
	}
	g.entries[conversationID] = &registryEntry{turnID: turnID, conn: conn}
	g.mu.Unlock()

	if err := conn.Connect(ctx); err != nil {
		g.remove(conversationID, conn)
		return nil, err
	}
	return conn, nil
}

// HasActive reports whether an open connection exists for exactly this
// conversation and turn. Callers use it to decide whether the remote peer
// already has context from earlier exchanges in the turn.
func (g *Registry) HasActive(conversationID, turnID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[conversationID]
	return ok && e.turnID == turnID && e.conn.IsOpen()
}

// Close unconditionally disposes and removes any entry for the conversation.
func (g *Registry) Close(conversationID string) {
	g.mu.Lock()
	e, ok := g.entries[conversationID]
	if ok {
		delete(g.entries, conversationID)
	}
	g.mu.Unlock()

	if ok {
		e.conn.Dispose()
	}
}

// CloseTurn disposes and removes the entry only if the stored turn matches.
// A mismatch is a no-op, protecting against closing a connection that has
// already moved on to a newer turn.
func (g *Registry) CloseTurn(conversationID, turnID string) {
	g.mu.Lock()
	e, ok := g.entries[conversationID]
	if ok && e.turnID != turnID {
		g.mu.Unlock()
		return
	}
	if ok {
		delete(g.entries, conversationID)
	}
	g.mu.Unlock()

	if ok {
		e.conn.Dispose()
	}
}

// CloseAll disposes every tracked connection and clears the registry. Safe
// to call during shutdown and safe to call more than once.
func (g *Registry) CloseAll() {
	g.mu.Lock()
	entries := make([]*registryEntry, 0, len(g.entries))
	for _, e := range g.entries {
		entries = append(entries, e)
	}
	g.entries = make(map[string]*registryEntry)
	g.mu.Unlock()

	for _, e := range entries {
		e.conn.Dispose()
	}
}

// Len returns the number of tracked conversations.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// remove deregisters the entry for conversationID, but only if it still
// holds conn. Guards against a disposal notification arriving after the
// entry was already replaced.
func (g *Registry) remove(conversationID string, conn *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.entries[conversationID]; ok && e.conn == conn {
		delete(g.entries, conversationID)
	}
}
