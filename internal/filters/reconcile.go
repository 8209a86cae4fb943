package filters

// Reconciler keeps an ordered list of handles mirroring a live list of
// targets. Handles whose target is still present survive regeneration with
// their identity intact; handles for removed targets are dropped and new
// targets get fresh handles.
type Reconciler[T comparable, R comparable] struct {
	handles []R
	create  func(T) R
	target  func(R) T
}

// NewReconciler returns an empty reconciler. create builds a handle for a
// live element; target reports the element a handle currently points at.
func NewReconciler[T comparable, R comparable](create func(T) R, target func(R) T) *Reconciler[T, R] {
	return &Reconciler[T, R]{create: create, target: target}
}

// Handles returns the handles in order.
func (rc *Reconciler[T, R]) Handles() []R {
	out := make([]R, len(rc.handles))
	copy(out, rc.handles)
	return out
}

// Len returns the number of handles.
func (rc *Reconciler[T, R]) Len() int { return len(rc.handles) }

// Targets returns the current target of every handle, in order.
func (rc *Reconciler[T, R]) Targets() []T {
	out := make([]T, len(rc.handles))
	for i, h := range rc.handles {
		out[i] = rc.target(h)
	}
	return out
}

// MustRegenerate reports whether live differs from the handle targets in
// length, membership or order.
func (rc *Reconciler[T, R]) MustRegenerate(live []T) bool {
	if len(live) != len(rc.handles) {
		return true
	}
	for i, h := range rc.handles {
		if rc.target(h) != live[i] {
			return true
		}
	}
	return false
}

// Regenerate rebuilds the handle list to follow live, reusing the existing
// handle of every element still present. It reports whether anything
// changed.
func (rc *Reconciler[T, R]) Regenerate(live []T) bool {
	if !rc.MustRegenerate(live) {
		return false
	}
	prev := rc.Targets()
	used := make([]bool, len(prev))
	next := make([]R, 0, len(live))
	for _, elem := range live {
		idx := -1
		for i, t := range prev {
			if !used[i] && t == elem {
				idx = i
				break
			}
		}
		if idx >= 0 {
			used[idx] = true
			next = append(next, rc.handles[idx])
			continue
		}
		next = append(next, rc.create(elem))
	}
	rc.handles = next
	return true
}

// GetOrCreate regenerates against live, then returns the first handle
// pointing at elem for which match (if non-nil) holds. When none exists a
// new handle is created and appended.
func (rc *Reconciler[T, R]) GetOrCreate(live []T, elem T, match func(R) bool) R {
	rc.Regenerate(live)
	for _, h := range rc.handles {
		if rc.target(h) == elem && (match == nil || match(h)) {
			return h
		}
	}
	h := rc.create(elem)
	rc.handles = append(rc.handles, h)
	return h
}

// Find returns the first handle pointing at elem.
func (rc *Reconciler[T, R]) Find(elem T) (R, bool) {
	for _, h := range rc.handles {
		if rc.target(h) == elem {
			return h, true
		}
	}
	var zero R
	return zero, false
}

// Append adds h at the end without regenerating.
func (rc *Reconciler[T, R]) Append(h R) {
	rc.handles = append(rc.handles, h)
}

// Remove drops h. It reports whether h was present.
func (rc *Reconciler[T, R]) Remove(h R) bool {
	idx := indexOf(rc.handles, h)
	if idx < 0 {
		return false
	}
	rc.handles = append(rc.handles[:idx], rc.handles[idx+1:]...)
	return true
}

// Reset drops every handle.
func (rc *Reconciler[T, R]) Reset() {
	rc.handles = nil
}
