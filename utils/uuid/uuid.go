// Package uuid generates and validates UUIDs.
package uuid

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDer generates identifiers for action runs.
type IDer interface {
	ID() string
}

// Random generates random (version 4) UUIDs.
type Random struct{}

// NewRandom creates a new random UUID generator.
func NewRandom() Random {
	return Random{}
}

// ID returns a new random UUID string.
func (Random) ID() string {
	return uuid.NewString()
}

// StaticIDs cycles through a fixed list of IDs.
type StaticIDs struct {
	mu  sync.Mutex
	ids []string
	i   int
}

// NewStaticIDs creates a generator returning ids in order, repeating once exhausted.
func NewStaticIDs(ids ...string) *StaticIDs {
	if len(ids) < 1 {
		panic("no static ids")
	}
	return &StaticIDs{ids: ids}
}

// ID returns the next ID.
func (s *StaticIDs) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.ids[s.i%len(s.ids)]
	s.i++
	return id
}

// Canonical parses s and returns it in canonical lowercase hyphenated form.
func Canonical(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid uuid %q: %w", s, err)
	}
	return u.String(), nil
}
