package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/fpt/framebridge/internal/channel"
	"github.com/fpt/framebridge/internal/detector"
	"github.com/fpt/framebridge/internal/metrics"
	pkgLogger "github.com/fpt/framebridge/pkg/logger"
)

// Operator actions.
const (
	ActionGetStats     = "getStats"
	ActionToggle       = "toggle"
	ActionHideNow      = "hideNow"
	ActionGetDebugInfo = "getDebugInfo"
	ActionRediscover   = "rediscover"
)

// Actions lists the supported actions in display order.
var Actions = []string{ActionGetStats, ActionToggle, ActionHideNow, ActionGetDebugInfo, ActionRediscover}

const (
	msgNotFound     = "iframe not found"
	msgNoResponse   = "iframe did not respond"
	msgUnknown      = "unknown command"
	iframeSrcLength = 100
)

// Request is an operator command.
type Request struct {
	Action string `json:"action"`
}

// Response is the single reply to a Request. Which fields are set depends
// on the action.
type Response struct {
	Success     bool            `json:"success"`
	Message     string          `json:"message,omitempty"`
	Enabled     *bool           `json:"enabled,omitempty"`
	HiddenCount *int            `json:"hiddenCount,omitempty"`
	IframeFound *bool           `json:"iframeFound,omitempty"`
	Stats       json.RawMessage `json:"stats,omitempty"`
	Hidden      *int            `json:"hidden,omitempty"`
	Total       *int            `json:"total,omitempty"`
	DebugInfo   *DebugInfo      `json:"debugInfo,omitempty"`
}

// DebugInfo is the getDebugInfo payload.
type DebugInfo struct {
	IframeFound     bool           `json:"iframeFound"`
	IframeID        string         `json:"iframeId,omitempty"`
	IframeSrc       string         `json:"iframeSrc,omitempty"`
	Enabled         bool           `json:"enabled"`
	HiddenCount     int            `json:"hiddenCount"`
	Detector        DetectorInfo   `json:"detector"`
	WorkerScriptURL string         `json:"workerScriptUrl"`
	LastDetection   *DetectionInfo `json:"lastDetection,omitempty"`
	Injection       InjectionState `json:"injection"`
	Pending         int            `json:"pending"`
}

// DetectorInfo describes the detector configuration.
type DetectorInfo struct {
	ContainerSelector string         `json:"containerSelector"`
	Selectors         []string       `json:"selectors"`
	RetryCounts       map[string]int `json:"retryCounts"`
}

// DetectionInfo summarizes the most recent search.
type DetectionInfo struct {
	Outcome   string         `json:"outcome"`
	Stage     string         `json:"stage"`
	Attempts  map[string]int `json:"attempts"`
	ElapsedMs int64          `json:"elapsedMs"`
	StartedAt time.Time      `json:"startedAt"`
}

// Dispatch runs one operator command. It always returns exactly one
// Response; internal failures are reported in it.
func (c *Coordinator) Dispatch(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Command handler panicked", "action", req.Action, "panic", r)
			resp = Response{Success: false, Message: fmt.Sprint(r)}
		}
		metrics.ObserveCommand(req.Action, resp.Success)
	}()

	c.logger.InfoWithIntention(pkgLogger.IntentionCommand, "Command received", "action", req.Action)

	switch req.Action {
	case ActionGetStats:
		return c.getStats(ctx)
	case ActionToggle:
		return c.toggle(ctx)
	case ActionHideNow:
		return c.hideNow(ctx)
	case ActionGetDebugInfo:
		return c.debugInfo()
	case ActionRediscover:
		c.Reset()
		return Response{Success: true}
	default:
		c.logger.Warn("Unknown command", "action", req.Action)
		return Response{Success: false, Message: msgUnknown}
	}
}

func (c *Coordinator) getStats(ctx context.Context) Response {
	if c.handle.Load() == nil {
		enabled, hidden := c.snapshot()
		return Response{
			Success:     false,
			Message:     msgNotFound,
			Enabled:     &enabled,
			HiddenCount: &hidden,
			IframeFound: boolPtr(false),
		}
	}

	reply, err := c.registry.Await(ctx, channel.EventStats, func(ctx context.Context, id string) error {
		return c.port.Post(ctx, channel.NewCommand(channel.CommandGetStats, id))
	}, c.cfg.ReplyTimeout)

	enabled, hidden := c.snapshot()
	if err != nil {
		c.logger.Warn("Stats request failed", "error", err)
		return Response{
			Success:     false,
			Message:     failureMessage(err),
			Enabled:     &enabled,
			HiddenCount: &hidden,
			IframeFound: boolPtr(true),
		}
	}

	stats := reply.Data
	if len(stats) == 0 {
		stats = json.RawMessage(`{}`)
	}
	c.logger.InfoWithIntention(pkgLogger.IntentionStatistics, "Stats received", "stats", string(stats))
	return Response{
		Success:     true,
		Stats:       stats,
		Enabled:     &enabled,
		IframeFound: boolPtr(true),
	}
}

func (c *Coordinator) toggle(ctx context.Context) Response {
	c.mu.Lock()
	c.enabled = !c.enabled
	enabled := c.enabled
	c.mu.Unlock()

	if c.handle.Load() != nil {
		cmd := channel.CommandDisable
		if enabled {
			cmd = channel.CommandEnable
		}
		if err := c.port.Post(ctx, channel.NewCommand(cmd, "")); err != nil {
			c.logger.Warn("Failed to forward toggle", "command", cmd, "error", err)
		}
	}

	c.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Cleaner toggled", "enabled", enabled)
	return Response{Success: true, Enabled: &enabled}
}

func (c *Coordinator) hideNow(ctx context.Context) Response {
	if c.handle.Load() == nil {
		return Response{Success: false, Message: msgNotFound}
	}

	reply, err := c.registry.Await(ctx, channel.EventHideNowResult, func(ctx context.Context, id string) error {
		return c.port.Post(ctx, channel.NewCommand(channel.CommandHideNow, id))
	}, c.cfg.ReplyTimeout)
	if err != nil {
		c.logger.Warn("Hide request failed", "error", err)
		return Response{Success: false, Message: failureMessage(err)}
	}

	// The worker answered; an unreadable count is taken as zero.
	result, err := reply.HideResult()
	if err != nil {
		c.logger.Warn("Malformed hide result", "error", err)
	}

	c.mu.Lock()
	c.hiddenCount += result.Hidden
	total := c.hiddenCount
	c.mu.Unlock()

	c.logger.InfoWithIntention(pkgLogger.IntentionStatistics, "Elements hidden", "hidden", result.Hidden, "total", total)
	return Response{Success: true, Hidden: &result.Hidden, Total: &total}
}

func (c *Coordinator) debugInfo() Response {
	cfg := c.finder.Config()
	info := &DebugInfo{
		Detector: DetectorInfo{
			ContainerSelector: cfg.ContainerSelector,
			Selectors:         append([]string(nil), cfg.TargetSelectors...),
			RetryCounts: map[string]int{
				string(detector.StageContainer): cfg.ContainerPolicy.MaxAttempts,
				string(detector.StageTarget):    cfg.TargetPolicy.MaxAttempts,
				string(detector.StageLoad):      cfg.LoadPolicy.MaxAttempts,
			},
		},
		WorkerScriptURL: c.cfg.WorkerScriptURL,
		Pending:         c.registry.Len(),
	}

	if h := c.handle.Load(); h != nil {
		info.IframeFound = true
		info.IframeID = h.Element.ID()
		info.IframeSrc = detector.Truncate(h.Element.Src(), iframeSrcLength)
	}

	c.mu.Lock()
	info.Enabled = c.enabled
	info.HiddenCount = c.hiddenCount
	info.Injection = c.injection
	if r := c.lastDetection; r != nil {
		attempts := make(map[string]int, len(r.Attempts))
		for stage, n := range r.Attempts {
			attempts[string(stage)] = n
		}
		info.LastDetection = &DetectionInfo{
			Outcome:   r.Outcome.String(),
			Stage:     string(r.Stage),
			Attempts:  attempts,
			ElapsedMs: r.Elapsed.Milliseconds(),
			StartedAt: r.Started,
		}
	}
	c.mu.Unlock()

	return Response{Success: true, DebugInfo: info}
}

func (c *Coordinator) snapshot() (enabled bool, hidden int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled, c.hiddenCount
}

func failureMessage(err error) string {
	if errors.Is(err, ErrReplyTimeout) {
		return msgNoResponse
	}
	return err.Error()
}

func boolPtr(b bool) *bool {
	return &b
}
