package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/fpt/framebridge/internal/channel"
)

// ErrReplyTimeout is returned by Await when no matching reply arrives in time.
var ErrReplyTimeout = errors.New("bridge: reply timeout")

type pendingRequest struct {
	id     string
	expect channel.Event
	seq    uint64
	reply  chan channel.Inbound
}

// Registry correlates outbound requests with their replies. Each entry
// receives at most one reply and is removed when Await returns.
type Registry struct {
	mu       sync.Mutex
	pending  map[string]*pendingRequest
	seq      uint64
	onChange func(n int)
}

// NewRegistry creates an empty registry. onChange, if set, receives the
// pending count after every registration and removal.
func NewRegistry(onChange func(n int)) *Registry {
	return &Registry{
		pending:  make(map[string]*pendingRequest),
		onChange: onChange,
	}
}

// Await registers a request expecting expect, calls send with its id and
// waits for the reply, the timeout or ctx, whichever comes first. The
// timeout covers the send as well; send receives a context carrying the
// deadline.
func (r *Registry) Await(ctx context.Context, expect channel.Event, send func(ctx context.Context, id string) error, timeout time.Duration) (channel.Inbound, error) {
	p := r.register(expect)
	defer r.remove(p.id)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sent := make(chan error, 1)
	go func() {
		sent <- send(waitCtx, p.id)
	}()

	expired := func() (channel.Inbound, error) {
		if err := ctx.Err(); err != nil {
			return channel.Inbound{}, err
		}
		return channel.Inbound{}, errors.Wrapf(ErrReplyTimeout, "no %s within %s", expect, timeout)
	}

	for {
		select {
		case err := <-sent:
			if err != nil {
				if waitCtx.Err() != nil {
					return expired()
				}
				return channel.Inbound{}, errors.Wrapf(err, "send request for %s", expect)
			}
			sent = nil
		case msg := <-p.reply:
			return msg, nil
		case <-waitCtx.Done():
			return expired()
		}
	}
}

// Resolve hands msg to the pending request it answers and reports whether
// one consumed it. A reply carrying a request id only matches that request;
// otherwise the oldest request expecting msg.Command wins.
func (r *Registry) Resolve(msg channel.Inbound) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	var match *pendingRequest
	if msg.RequestID != "" {
		if p, ok := r.pending[msg.RequestID]; ok && p.expect == msg.Command {
			match = p
		}
	} else {
		for _, p := range r.pending {
			if p.expect != msg.Command {
				continue
			}
			if match == nil || p.seq < match.seq {
				match = p
			}
		}
	}
	if match == nil {
		return false
	}

	delete(r.pending, match.id)
	match.reply <- msg
	r.changed()
	return true
}

// Len returns the number of outstanding requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) register(expect channel.Event) *pendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	p := &pendingRequest{
		id:     uuid.NewString(),
		expect: expect,
		seq:    r.seq,
		reply:  make(chan channel.Inbound, 1),
	}
	r.pending[p.id] = p
	r.changed()
	return p
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; !ok {
		return
	}
	delete(r.pending, id)
	r.changed()
}

// changed must be called with mu held.
func (r *Registry) changed() {
	if r.onChange != nil {
		r.onChange(len(r.pending))
	}
}
