package actorutil

import (
	"github.com/asynkron/protoactor-go/actor"
)

// Stash keeps messages received in a state that cannot handle them yet.
// Unstashed messages are re-sent to self with their original sender.
type Stash struct {
	stash []stashElem
}

type stashElem struct {
	msg    any
	sender *actor.PID
}

func (stash *Stash) Stash(ctx actor.Context, msg any) {
	stash.stash = append(stash.stash, stashElem{
		msg:    msg,
		sender: ctx.Sender(),
	})
}

func (stash *Stash) Len() int {
	return len(stash.stash)
}

func (stash *Stash) UnstashAll(ctx actor.Context) {
	for _, elem := range stash.stash {
		ctx.RequestWithCustomSender(ctx.Self(), elem.msg, elem.sender)
	}
	stash.stash = nil
}

// Drop discards stashed messages of type T, e.g. ticks that are stale once
// the actor leaves a waiting state.
func Drop[T any](stash *Stash) int {
	kept := stash.stash[:0]
	dropped := 0
	for _, elem := range stash.stash {
		if _, ok := elem.msg.(T); ok {
			dropped++
			continue
		}
		kept = append(kept, elem)
	}
	stash.stash = kept
	return dropped
}
