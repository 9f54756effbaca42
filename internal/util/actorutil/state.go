package actorutil

import (
	"github.com/asynkron/protoactor-go/actor"
)

// ActorWithStates drives an actor.Behavior from named states so the
// current state can be reported in health checks.
type ActorWithStates struct {
	Behavior actor.Behavior
	current  []string
}

type ActorState interface {
	Name() string
	Receive(actor.Context)
}

func (s *ActorWithStates) Become(state ActorState) {
	s.current = []string{state.Name()}
	s.Behavior.Become(state.Receive)
}

func (s *ActorWithStates) BecomeStacked(state ActorState) {
	s.current = append(s.current, state.Name())
	s.Behavior.BecomeStacked(state.Receive)
}

func (s *ActorWithStates) UnbecomeStacked() {
	if len(s.current) > 1 {
		s.current = s.current[:len(s.current)-1]
	}
	s.Behavior.UnbecomeStacked()
}

// StateName returns the name of the innermost active state.
func (s *ActorWithStates) StateName() string {
	if len(s.current) == 0 {
		return ""
	}
	return s.current[len(s.current)-1]
}
