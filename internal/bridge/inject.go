package bridge

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/fpt/framebridge/internal/channel"
	"github.com/fpt/framebridge/internal/metrics"
	pkgLogger "github.com/fpt/framebridge/pkg/logger"
)

const (
	strategyScript = "script"
	strategyInline = "inline"
)

// loaderSource builds the inline loader used when the frame refuses an
// external script element.
func loaderSource(workerURL string) string {
	return fmt.Sprintf(`(function () {
  var s = document.createElement('script');
  s.src = %s;
  s.type = 'text/javascript';
  s.onload = function () {
    window.postMessage({ type: 'command', command: 'init' }, '*');
  };
  document.head.appendChild(s);
})();`, strconv.Quote(workerURL))
}

// inject delivers the worker payload into the claimed frame, trying the
// inline loader once when the script element fails. Init is sent after
// either succeeds. Work for a handle dropped by Reset is abandoned.
func (c *Coordinator) inject(ctx context.Context, h *Handle) {
	if !c.setInjection(h, InjectionPending) {
		return
	}
	c.logger.InfoWithIntention(pkgLogger.IntentionInject, "Injecting worker script", "url", c.cfg.WorkerScriptURL)

	content, err := h.Element.ContentDocument()
	if err != nil {
		metrics.ObserveInjection(strategyScript, false)
		metrics.ObserveInjection(strategyInline, false)
		if c.setInjection(h, InjectionFailed) {
			c.logger.Error("All injection methods failed", "error", errors.Wrap(err, "frame content unavailable"))
		}
		return
	}
	if c.handle.Load() != h {
		c.logger.Debug("Handle dropped during injection", "id", h.Element.ID())
		return
	}

	state := InjectionScript
	if err := content.AppendScript(c.cfg.WorkerScriptURL); err != nil {
		metrics.ObserveInjection(strategyScript, false)
		c.logger.Warn("Worker script failed, trying inline loader", "error", err)

		if err := content.Eval(loaderSource(c.cfg.WorkerScriptURL)); err != nil {
			metrics.ObserveInjection(strategyInline, false)
			if c.setInjection(h, InjectionFailed) {
				c.logger.Error("All injection methods failed", "error", err)
			}
			return
		}
		metrics.ObserveInjection(strategyInline, true)
		state = InjectionInline
	} else {
		metrics.ObserveInjection(strategyScript, true)
	}

	if !c.setInjection(h, state) {
		c.logger.Debug("Handle dropped during injection", "id", h.Element.ID())
		return
	}
	c.logger.InfoWithIntention(pkgLogger.IntentionSuccess, "Worker injected", "method", state)

	if err := c.port.Post(ctx, channel.NewCommand(channel.CommandInit, "")); err != nil {
		c.logger.Warn("Failed to send init command", "error", err)
		return
	}
	c.logger.InfoWithIntention(pkgLogger.IntentionChannel, "Init command sent")
}

// setInjection records s if h is still the claimed handle.
func (c *Coordinator) setInjection(h *Handle, s InjectionState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle.Load() != h {
		return false
	}
	c.injection = s
	return true
}
