package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/atmx/agent-market/internal/model"
)

// Scripted replays fixed decision sequences, one per role. Once a role's
// script is exhausted, further calls return ErrUnavailable.
type Scripted struct {
	mu     sync.Mutex
	script map[model.Role][]Decision
	next   map[model.Role]int
}

// NewScripted creates a scripted policy.
func NewScripted(buyer, seller []Decision) *Scripted {
	return &Scripted{
		script: map[model.Role][]Decision{
			model.RoleBuyer:  buyer,
			model.RoleSeller: seller,
		},
		next: make(map[model.Role]int),
	}
}

func (s *Scripted) Decide(_ context.Context, c Context) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.next[c.Role]
	if i >= len(s.script[c.Role]) {
		return Decision{}, fmt.Errorf("%w: %s script exhausted after %d decisions", ErrUnavailable, c.Role, i)
	}
	s.next[c.Role] = i + 1
	return s.script[c.Role][i], nil
}

// Calls returns how many decisions have been served for role.
func (s *Scripted) Calls(role model.Role) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next[role]
}
