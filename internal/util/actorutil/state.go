package actorutil

import (
	"github.com/asynkron/protoactor-go/actor"
)

// ActorWithStates wraps actor.Behavior with named states. Only the state set
// with Become is tracked; stacked states are transient.
type ActorWithStates struct {
	Behavior actor.Behavior
	current  ActorState
}

type ActorState interface {
	Name() string
	Receive(actor.Context)
}

func (s *ActorWithStates) Become(state ActorState) {
	s.current = state
	s.Behavior.Become(state.Receive)
}

func (s *ActorWithStates) BecomeStacked(state ActorState) {
	s.Behavior.BecomeStacked(state.Receive)
}

func (s *ActorWithStates) UnbecomeStacked() {
	s.Behavior.UnbecomeStacked()
}

func (s *ActorWithStates) StateName() string {
	if s.current == nil {
		return ""
	}
	return s.current.Name()
}
