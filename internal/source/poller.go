// Package source keeps a dom.Page in sync with a live host page served over HTTP.
package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"

	"github.com/fpt/framebridge/pkg/dom"
	pkgLogger "github.com/fpt/framebridge/pkg/logger"
)

const (
	defaultUserAgent = "framebridge/1.0"
	maxBodyBytes     = 8 << 20
	fetchTries       = 3
)

// Config controls the poller.
type Config struct {
	Interval    time.Duration
	Timeout     time.Duration
	FetchFrames bool
	UserAgent   string
}

// Poller refreshes a Page from its URL on a fixed interval.
type Poller struct {
	cfg    Config
	page   *dom.Page
	client *http.Client
	logger *pkgLogger.Logger
}

// NewPoller creates a poller for page.
func NewPoller(cfg Config, page *dom.Page, logger *pkgLogger.Logger) *Poller {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Poller{
		cfg:    cfg,
		page:   page,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.WithComponent("source"),
	}
}

// Run refreshes the page immediately and then on every tick. Blocks until
// ctx is cancelled. Failed refreshes are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) {
	p.logger.InfoWithIntention(pkgLogger.IntentionObserve, "Page polling started", "url", p.page.URL(), "interval", p.cfg.Interval)
	if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
		p.logger.Warn("Page refresh failed", "error", err)
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("Page refresh failed", "error", err)
			}
		}
	}
}

// Refresh fetches the host page once. Same-origin frames are fetched first
// so their content is attached before observers see the new snapshot.
func (p *Poller) Refresh(ctx context.Context) error {
	body, err := p.fetch(ctx, p.page.URL())
	if err != nil {
		return errors.Wrap(err, "fetch host page")
	}

	if p.cfg.FetchFrames {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return errors.Wrap(err, "parse host page")
		}
		p.attachFrames(ctx, doc)
	}

	if err := p.page.Load(bytes.NewReader(body)); err != nil {
		return errors.Wrap(err, "load host page")
	}
	p.logger.Debug("Page refreshed", "bytes", len(body))
	return nil
}

// attachFrames fetches same-origin frames the page does not know yet.
// Known frames are kept so scripts attached to them survive refreshes.
func (p *Poller) attachFrames(ctx context.Context, doc *goquery.Document) {
	doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if src == "" || !p.page.SameOrigin(src) {
			return
		}
		if _, ok := p.page.Frame(src); ok {
			return
		}
		abs, err := p.page.ResolveURL(src)
		if err != nil {
			p.logger.Debug("Skipping frame with bad src", "src", src, "error", err)
			return
		}

		body, err := p.fetch(ctx, abs)
		if err != nil {
			p.logger.Warn("Frame fetch failed", "src", abs, "error", err)
			return
		}
		frame, err := dom.NewFrame(bytes.NewReader(body))
		if err != nil {
			p.logger.Warn("Frame parse failed", "src", abs, "error", err)
			return
		}
		frame.SetReadyState(dom.ReadyStateComplete)
		if err := p.page.SetFrame(src, frame); err != nil {
			p.logger.Warn("Frame attach failed", "src", abs, "error", err)
			return
		}
		p.logger.InfoWithIntention(pkgLogger.IntentionObserve, "Frame document attached", "src", abs)
	})
}

// fetch GETs url, retrying transport errors and 5xx responses.
func (p *Poller) fetch(ctx context.Context, url string) ([]byte, error) {
	op := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("User-Agent", p.cfg.UserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, resp.Status)
		case resp.StatusCode != http.StatusOK:
			return nil, backoff.Permanent(fmt.Errorf("HTTP error %d: %s", resp.StatusCode, resp.Status))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, err
		}
		return body, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(fetchTries),
	)
}
