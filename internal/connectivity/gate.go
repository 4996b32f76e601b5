// Package connectivity tracks whether the collaborators are reachable and
// gates dispatch of jobs that require the network.
package connectivity

import (
	"sync/atomic"

	"nutrilog/internal/queue"
)

// Gate decides whether a job's constraints currently hold.
type Gate interface {
	Satisfied(c queue.Constraints) bool
}

// Always is a gate whose constraints always hold.
type Always struct{}

func (Always) Satisfied(queue.Constraints) bool { return true }

// Switch is a manually controlled gate.
type Switch struct {
	online atomic.Bool
}

// NewSwitch returns a switch in the given state.
func NewSwitch(online bool) *Switch {
	s := &Switch{}
	s.online.Store(online)
	return s
}

// Set changes the reported network state.
func (s *Switch) Set(online bool) {
	s.online.Store(online)
}

func (s *Switch) Satisfied(c queue.Constraints) bool {
	return !c.RequiresNetwork || s.online.Load()
}

// Online reports the current switch position.
func (s *Switch) Online() bool {
	return s.online.Load()
}
