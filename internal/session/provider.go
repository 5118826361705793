// Package session resolves session identity to execution attributes. The
// dispatcher asks it once per batch which project root a session is
// confined to.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// ErrSessionNotFound is returned when a session id has no registered root.
var ErrSessionNotFound = errors.New("session not found")

// Provider maps a session id to its project root.
type Provider interface {
	ProjectRootOf(sessionID string) (string, error)
}

// StaticProvider is an in-memory session table. Safe for concurrent use.
type StaticProvider struct {
	mu    sync.RWMutex
	roots map[string]string
}

// NewStaticProvider builds a provider from an initial session→root table.
func NewStaticProvider(roots map[string]string) *StaticProvider {
	table := make(map[string]string, len(roots))
	for id, root := range roots {
		table[id] = root
	}
	return &StaticProvider{roots: table}
}

// Register adds or replaces a session's project root.
func (p *StaticProvider) Register(sessionID, projectRoot string) {
	p.mu.Lock()
	p.roots[sessionID] = projectRoot
	p.mu.Unlock()
}

// Remove drops a session from the table.
func (p *StaticProvider) Remove(sessionID string) {
	p.mu.Lock()
	delete(p.roots, sessionID)
	p.mu.Unlock()
}

// ProjectRootOf implements Provider.
func (p *StaticProvider) ProjectRootOf(sessionID string) (string, error) {
	p.mu.RLock()
	root, ok := p.roots[sessionID]
	p.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return root, nil
}
