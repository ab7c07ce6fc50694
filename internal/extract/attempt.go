package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/jpvalente/adsync/internal/page"
	"go.uber.org/zap"
)

// AttemptState is the phase of one phone reveal attempt.
type AttemptState string

const (
	AttemptIdle       AttemptState = "idle"
	AttemptDisclosing AttemptState = "disclosing"
	AttemptPolling    AttemptState = "polling"
	AttemptFound      AttemptState = "found"
	AttemptAbandoned  AttemptState = "abandoned"
)

// Driver is the slice of page.Driver an attempt needs.
type Driver interface {
	Snapshot(ctx context.Context) (*page.Document, error)
	Click(ctx context.Context, selector string) error
	Eval(ctx context.Context, js string, out any) error
}

// AttemptConfig bounds the reveal polling loop. The panel appears
// asynchronously with no completion signal from the page, hence the
// bounded retry design.
type AttemptConfig struct {
	PollInterval time.Duration
	MaxPolls     int
	RetryPoll    int
	MinDigits    int
}

// DefaultAttemptConfig matches the observed panel latency: 60 polls at
// 150ms is roughly a 9s ceiling, with one re-disclosure at poll 25.
func DefaultAttemptConfig() AttemptConfig {
	return AttemptConfig{
		PollInterval: 150 * time.Millisecond,
		MaxPolls:     60,
		RetryPoll:    25,
		MinDigits:    MinPhoneDigits,
	}
}

// Phone is the outcome of a successful attempt.
type Phone struct {
	Storage string
	Display string
}

// Attempt is one in-flight phone reveal. It is stamped with the identity of
// the conversation it was started for; if the visible conversation changes
// mid-flight the attempt abandons itself rather than attributing a late
// result to the wrong conversation.
type Attempt struct {
	drv    Driver
	cfg    AttemptConfig
	logger *zap.Logger

	// TargetIdentity is the conversation the attempt belongs to.
	TargetIdentity string

	state          AttemptState
	polls          int
	simulatedClick bool
}

// NewAttempt creates an attempt for the given conversation identity.
func NewAttempt(drv Driver, cfg AttemptConfig, targetIdentity string, logger *zap.Logger) *Attempt {
	if cfg.MaxPolls <= 0 {
		cfg = DefaultAttemptConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Attempt{
		drv:            drv,
		cfg:            cfg,
		logger:         logger,
		TargetIdentity: targetIdentity,
		state:          AttemptIdle,
	}
}

// State returns the attempt's current phase.
func (a *Attempt) State() AttemptState { return a.state }

// Polls returns how many polls ran.
func (a *Attempt) Polls() int { return a.polls }

// Run drives the attempt to completion: disclose, poll for the panel,
// extract and normalize, hide the panel again. Returns (nil, nil) when the
// attempt was abandoned — a routine outcome, not an error.
func (a *Attempt) Run(ctx context.Context) (*Phone, error) {
	doc, err := a.drv.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial snapshot: %w", err)
	}
	if got := page.HeaderIdentity(doc); got != a.TargetIdentity {
		a.state = AttemptAbandoned
		return nil, nil
	}
	control := page.FindRevealControl(doc)
	if control == nil {
		// The header may simply not carry a reveal control; routine.
		a.state = AttemptAbandoned
		return nil, nil
	}

	a.state = AttemptDisclosing
	a.simulatedClick = true
	if err := a.drv.Click(ctx, control.Selector); err != nil {
		a.state = AttemptAbandoned
		return nil, fmt.Errorf("disclose: %w", err)
	}

	a.state = AttemptPolling
	for a.polls = 1; a.polls <= a.cfg.MaxPolls; a.polls++ {
		select {
		case <-time.After(a.cfg.PollInterval):
		case <-ctx.Done():
			a.state = AttemptAbandoned
			return nil, ctx.Err()
		}

		doc, err := a.drv.Snapshot(ctx)
		if err != nil {
			continue
		}

		// Stale check: conversation switched or the control itself was
		// replaced since disclosure.
		if got := page.HeaderIdentity(doc); got != a.TargetIdentity {
			a.logger.Info("phone attempt abandoned, conversation changed",
				zap.String("target", a.TargetIdentity), zap.String("current", got))
			a.state = AttemptAbandoned
			return nil, nil
		}
		current := page.FindRevealControl(doc)
		if current == nil || current.Selector != control.Selector {
			a.state = AttemptAbandoned
			return nil, nil
		}

		panel := page.FindDisclosurePanel(doc, current)
		if raw, ok := page.TelLink(panel); ok {
			storage, valid := CleanPhone(raw)
			if valid && len(storage) >= a.cfg.MinDigits {
				a.finish(ctx, panel, current)
				a.state = AttemptFound
				return &Phone{Storage: storage, Display: DisplayPhone(storage)}, nil
			}
			// A link with too few digits counts as not found; keep polling.
		}

		if a.polls == a.cfg.RetryPoll && !page.RevealControlExpanded(current) {
			// The first disclosure click got swallowed; one more try.
			if err := a.drv.Click(ctx, current.Selector); err == nil {
				a.logger.Info("re-issued phone disclosure", zap.String("target", a.TargetIdentity))
			}
		}
	}

	a.logger.Info("phone extraction abandoned, poll ceiling reached",
		zap.String("target", a.TargetIdentity), zap.Int("polls", a.cfg.MaxPolls))
	a.state = AttemptAbandoned
	return nil, nil
}

// finish force-hides the disclosure panel and marks the control collapsed.
// Only attempts that opened the panel themselves are allowed to close it:
// a genuine user click is left alone.
func (a *Attempt) finish(ctx context.Context, panel, control *page.Element) {
	if !a.simulatedClick {
		return
	}
	js := fmt.Sprintf(`(() => {
  const panel = document.querySelector(%q);
  if (panel) panel.style.display = 'none';
  const control = document.querySelector(%q);
  if (control) control.setAttribute('aria-expanded', 'false');
})()`, panel.Selector, control.Selector)
	if err := a.drv.Eval(ctx, js, nil); err != nil {
		a.logger.Warn("failed to hide disclosure panel", zap.Error(err))
	}
	a.simulatedClick = false
}
