package domain

import (
	"github.com/asynkron/protoactor-go/actor"
)

type ActorRef actor.PID

type ActorRequestMixIn struct {
	ReplyToRef *ActorRef
}

type ActorRequest interface {
	ReplyTo() *ActorRef
}

func (r ActorRequestMixIn) ReplyTo() *ActorRef {
	return r.ReplyToRef
}

// ReplyToPID builds a request mixin that answers to pid instead of the sender.
func ReplyToPID(pid *actor.PID) ActorRequestMixIn {
	return ActorRequestMixIn{ReplyToRef: (*ActorRef)(pid)}
}

type ActorResponseMixIn struct {
	ResponseError error
}

func ResponseError(err error) ActorResponseMixIn {
	return ActorResponseMixIn{ResponseError: err}
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}

type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}
