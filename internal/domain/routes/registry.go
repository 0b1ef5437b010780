// Package routes holds the in-memory routing table the gateway consults on
// every proxied request.
package routes

import "sync"

// Route is one entry of the routing table.
type Route struct {
	Name        string
	UpstreamURL string
	Enabled     bool
}

// Registry is the gateway's view of registered services. Lookups are
// lock-cheap reads; Reload swaps the whole table atomically so the gateway
// never observes a half-applied admin mutation.
type Registry struct {
	mu     sync.RWMutex
	routes map[string]Route
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[string]Route)}
}

// Reload replaces the routing table with the given routes.
func (r *Registry) Reload(routes []Route) {
	next := make(map[string]Route, len(routes))
	for _, rt := range routes {
		next[rt.Name] = rt
	}
	r.mu.Lock()
	r.routes = next
	r.mu.Unlock()
}

// Lookup returns the route for name and whether it exists.
func (r *Registry) Lookup(name string) (Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routes[name]
	return rt, ok
}

// Exists reports whether a service with the given name is registered,
// enabled or not.
func (r *Registry) Exists(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// UpstreamFor returns the upstream URL for an enabled service. The second
// return distinguishes unknown from disabled: (url, true) for an enabled
// route, ("", false) otherwise.
func (r *Registry) UpstreamFor(name string) (string, bool) {
	rt, ok := r.Lookup(name)
	if !ok || !rt.Enabled {
		return "", false
	}
	return rt.UpstreamURL, true
}

// Len returns the number of registered routes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}
