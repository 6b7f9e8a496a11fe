package channel

import (
	"context"
	"sync"
)

// Pipe is an in-process channel with buffered queues in both directions.
// The host uses Post/Inbound; the embedded side uses Commands/Reply.
type Pipe struct {
	toEmbedded   chan Outbound
	fromEmbedded chan Inbound

	mu     sync.RWMutex
	closed bool
}

// NewPipe creates a pipe with the given buffer size per direction.
func NewPipe(bufferSize int) *Pipe {
	return &Pipe{
		toEmbedded:   make(chan Outbound, bufferSize),
		fromEmbedded: make(chan Inbound, bufferSize),
	}
}

// Post queues a command for the embedded side without blocking.
func (p *Pipe) Post(ctx context.Context, msg Outbound) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.toEmbedded <- msg:
		return nil
	default:
		return ErrChannelFull
	}
}

// Inbound implements Port.
func (p *Pipe) Inbound() <-chan Inbound {
	return p.fromEmbedded
}

// Commands is the embedded side's view of posted commands.
func (p *Pipe) Commands() <-chan Outbound {
	return p.toEmbedded
}

// Reply queues a message for the host without blocking.
func (p *Pipe) Reply(msg Inbound) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.fromEmbedded <- msg:
		return nil
	default:
		return ErrChannelFull
	}
}

// Close closes both directions. Further Post and Reply calls fail.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.toEmbedded)
	close(p.fromEmbedded)
	return nil
}
