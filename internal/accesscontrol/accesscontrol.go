// Package accesscontrol models the external authorization oracle the
// Management service delegates every permission decision to (spec
// §1's "Out of scope" list: "Authentication and access-control
// services — treated as oracles answering authorize(subject, object)
// booleans").
//
// Oracle is the production contract; InMemory is a reference
// implementation used by tests, and the cmd/management and
// cmd/frontend binaries wire it in allow-all mode in place of an
// external authorization service.
package accesscontrol

import "sync"

// Object names the resource an RPC acts on, e.g. "function:<id>" or
// "task:<id>:cancel".
type Object string

// Oracle answers whether subject may perform the action implied by
// object. Management never decides authorization itself (spec §4.4);
// it calls this and propagates PermissionDenied verbatim on a false
// answer.
type Oracle interface {
	Authorize(subject string, object Object) (bool, error)
}

// InMemory is a simple allow-list oracle: every (subject, object)
// pair must be granted explicitly, unless it was built with allowAll.
type InMemory struct {
	mu      sync.RWMutex
	grants  map[string]map[Object]bool
	allowAll bool
}

// NewInMemory returns an empty oracle that denies everything until
// Grant is called, unless allowAll is set (useful for tests that
// don't exercise the authorization path).
func NewInMemory(allowAll bool) *InMemory {
	return &InMemory{grants: make(map[string]map[Object]bool), allowAll: allowAll}
}

func (o *InMemory) Grant(subject string, object Object) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.grants[subject] == nil {
		o.grants[subject] = make(map[Object]bool)
	}
	o.grants[subject][object] = true
}

func (o *InMemory) Revoke(subject string, object Object) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.grants[subject], object)
}

func (o *InMemory) Authorize(subject string, object Object) (bool, error) {
	if o.allowAll {
		return true, nil
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.grants[subject][object], nil
}
