package detector

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Target identification defaults for the deal-details side panel.
const (
	DefaultContainerSelector = ".side-panel-content-wrapper"
	DefaultRequiredPath      = "/crm/deal/details/"
	DefaultRequiredQuery     = "IFRAME=Y"
	// DefaultQuickSelector is the cheap lookup used by passive discovery.
	DefaultQuickSelector = "iframe.side-panel-iframe"
)

// DefaultTargetSelectors are tried in order on every target attempt.
var DefaultTargetSelectors = []string{
	".side-panel-iframe",
	`iframe[src*="/crm/deal/details/"]`,
	`iframe[src*="IFRAME=Y"]`,
}

// Config identifies the target and bounds each stage.
type Config struct {
	ContainerSelector string
	TargetSelectors   []string
	RequiredPath      string
	RequiredQuery     string

	ContainerPolicy RetryPolicy
	TargetPolicy    RetryPolicy
	LoadPolicy      RetryPolicy
}

// DefaultConfig returns the production selectors and retry schedule.
func DefaultConfig() Config {
	return Config{
		ContainerSelector: DefaultContainerSelector,
		TargetSelectors:   append([]string(nil), DefaultTargetSelectors...),
		RequiredPath:      DefaultRequiredPath,
		RequiredQuery:     DefaultRequiredQuery,
		ContainerPolicy:   MillisPolicy(5, 500, 1000, 2000, 3000, 5000),
		TargetPolicy:      MillisPolicy(10, 500, 500, 1000, 1000, 2000, 2000, 3000, 5000, 8000, 13000),
		LoadPolicy:        MillisPolicy(5, 500, 1000, 2000, 3000, 5000),
	}
}

// Validate checks selectors and policies.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ContainerSelector) == "" {
		return errors.New("container selector is required")
	}
	if len(c.TargetSelectors) == 0 {
		return errors.New("at least one target selector is required")
	}
	for i, s := range c.TargetSelectors {
		if strings.TrimSpace(s) == "" {
			return errors.Errorf("target selector %d is empty", i)
		}
	}
	policies := map[Stage]RetryPolicy{
		StageContainer: c.ContainerPolicy,
		StageTarget:    c.TargetPolicy,
		StageLoad:      c.LoadPolicy,
	}
	for stage, p := range policies {
		if err := p.Validate(); err != nil {
			return errors.Wrapf(err, "%s policy", stage)
		}
	}
	return nil
}

// MaxWait is the longest a search can spend waiting between attempts.
// It is a diagnostic figure; Find does not enforce it.
func (c Config) MaxWait() time.Duration {
	return c.ContainerPolicy.TotalWait() + c.TargetPolicy.TotalWait() + c.LoadPolicy.TotalWait()
}
