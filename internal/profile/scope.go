package profile

import "errors"

// ErrScopeOrder is returned when a scope is ended while an inner one is
// still open.
var ErrScopeOrder = errors.New("scope ended out of order")

// Scope batches commits. Profile commits made while any scope is open are
// deferred; ending the outermost scope writes every tainted profile once.
//
//	scope := reg.Begin()
//	defer scope.End()
type Scope struct {
	registry *Registry
	parent   *Scope
	depth    int
	ended    bool
}

// Begin opens a scope nested in the current one, if any.
func (r *Registry) Begin() *Scope {
	s := &Scope{registry: r, parent: r.scope}
	if r.scope != nil {
		s.depth = r.scope.depth + 1
	}
	r.scope = s
	return s
}

// InScope reports whether any scope is open.
func (r *Registry) InScope() bool { return r.scope != nil }

// Depth returns 0 for the outermost scope.
func (s *Scope) Depth() int { return s.depth }

// Outermost reports whether ending this scope flushes.
func (s *Scope) Outermost() bool { return s.parent == nil }

// End closes the scope. Ending the outermost scope flushes all tainted
// profiles and returns the write failures. Ending twice is a no-op.
func (s *Scope) End() error {
	if s.ended {
		return nil
	}
	r := s.registry
	if r.scope != s {
		return ErrScopeOrder
	}
	s.ended = true
	r.scope = s.parent
	if s.parent != nil {
		return nil
	}
	r.sys.Metrics().RecordFlush()
	return r.Flush()
}
