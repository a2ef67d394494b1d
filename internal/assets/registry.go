package assets

import "sync"

// Registry tracks the live repository for each in-flight root job so stages
// running in different goroutines resolve the same instance. Lookups after a
// daemon restart fall back to reopening from disk at the workflow layer.
type Registry struct {
	mu    sync.Mutex
	repos map[string]*Repository
}

func NewRegistry() *Registry {
	return &Registry{repos: make(map[string]*Repository)}
}

// Register associates a repository with its root job.
func (g *Registry) Register(repo *Repository) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.repos[repo.RootID()] = repo
}

// Lookup returns the repository for rootID if one is registered.
func (g *Registry) Lookup(rootID string) (*Repository, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	repo, ok := g.repos[rootID]
	return repo, ok
}

// Release forgets the repository for rootID.
func (g *Registry) Release(rootID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.repos, rootID)
}
