package room

import (
	"sync"
	"sync/atomic"

	"github.com/DoyleJ11/puzzle-duel-backend/internal/types"
)

// Outbox is one connection's bounded delivery queue. Rooms write to it, the
// transport drains C() and stops once Done() is closed.
//
// The message channel is never closed, so a room holding a stale reference
// can offer into it safely. Only the room that admitted the connection last
// owns the outbox; other rooms neither broadcast to it nor close it.
type Outbox struct {
	ch    chan types.ServerMessage
	done  chan struct{}
	once  sync.Once
	owner atomic.Pointer[Room]
}

func NewOutbox(size int) *Outbox {
	return &Outbox{
		ch:   make(chan types.ServerMessage, size),
		done: make(chan struct{}),
	}
}

func (o *Outbox) C() <-chan types.ServerMessage { return o.ch }

func (o *Outbox) Done() <-chan struct{} { return o.done }

// Offer enqueues without blocking. It reports false when the outbox is closed
// or full.
func (o *Outbox) Offer(msg types.ServerMessage) bool {
	if o == nil {
		return false
	}
	select {
	case <-o.done:
		return false
	default:
	}

	select {
	case o.ch <- msg:
		return true
	default:
		return false
	}
}

func (o *Outbox) Close() {
	o.once.Do(func() { close(o.done) })
}

func (o *Outbox) Closed() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

func (o *Outbox) claim(r *Room) {
	if o != nil {
		o.owner.Store(r)
	}
}

func (o *Outbox) ownedBy(r *Room) bool {
	return o != nil && o.owner.Load() == r
}
