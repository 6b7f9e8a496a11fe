package bridge

import (
	"context"

	"github.com/fpt/framebridge/internal/channel"
	"github.com/fpt/framebridge/internal/metrics"
	pkgLogger "github.com/fpt/framebridge/pkg/logger"
)

func (c *Coordinator) pump(ctx context.Context) {
	in := c.port.Inbound()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				c.logger.Debug("Inbound channel closed")
				return
			}
			c.handleInbound(msg)
		}
	}
}

// handleInbound offers msg to pending requests, then applies its own effect.
func (c *Coordinator) handleInbound(msg channel.Inbound) {
	if !msg.FromEmbedded() {
		return
	}
	metrics.ObserveInbound(string(msg.Command))

	if c.registry.Resolve(msg) {
		c.logger.Debug("Reply matched pending request", "command", msg.Command, "request_id", msg.RequestID)
	}

	switch msg.Command {
	case channel.EventStats:
		stats, err := msg.Stats()
		if err != nil {
			c.logger.Warn("Malformed stats payload", "error", err)
			return
		}
		c.mu.Lock()
		c.hiddenCount = stats.HiddenCount
		c.mu.Unlock()
		c.logger.InfoWithIntention(pkgLogger.IntentionStatistics, "Stats from worker", "hidden_count", stats.HiddenCount)
	case channel.EventElementHidden:
		c.mu.Lock()
		c.hiddenCount++
		total := c.hiddenCount
		c.mu.Unlock()
		c.logger.InfoWithIntention(pkgLogger.IntentionStatistics, "Element hidden", "total", total)
	case channel.EventError:
		c.logger.Error("Worker reported an error", "data", string(msg.Data))
	case channel.EventHideNowResult:
	default:
		c.logger.Debug("Ignoring unknown worker message", "command", msg.Command)
	}
}
