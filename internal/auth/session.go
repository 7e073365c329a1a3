package auth

import (
	"sync"
	"time"

	"github.com/frahmantamala/payment-dashboard/internal/permission"
)

// Session holds the signed-in principal of one dashboard. The owning Machine
// is its only writer; everyone else reads copies.
type Session struct {
	mu            sync.RWMutex
	principal     *Principal
	establishedAt time.Time
}

func NewSession() *Session {
	return &Session{}
}

// Principal returns a copy of the signed-in principal, or nil.
func (s *Session) Principal() *Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principal.clone()
}

func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principal != nil
}

func (s *Session) Role() permission.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principal.Role()
}

func (s *Session) EstablishedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.establishedAt
}

// Can is a shortcut for permission.HasPermission with the session's role.
func (s *Session) Can(menu permission.Menu, action permission.Action) bool {
	return permission.HasPermission(s.Role(), menu, action)
}

func (s *Session) establish(p *Principal, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principal = p.clone()
	s.establishedAt = at
}

func (s *Session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principal = nil
	s.establishedAt = time.Time{}
}
