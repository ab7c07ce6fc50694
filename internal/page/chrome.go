package page

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromeDriver implements Driver against a Chrome instance over the
// DevTools protocol. It either attaches to an already-running browser
// (remote debugging URL) or launches its own.
type ChromeDriver struct {
	ctx       context.Context
	cancel    context.CancelFunc
	targetURL string
	seq       atomic.Uint64
	logger    *zap.Logger
}

// NewChromeDriver connects to the browser and ensures a tab is on the
// target URL. An empty devtoolsURL launches a new browser instead of
// attaching.
func NewChromeDriver(parent context.Context, devtoolsURL, targetURL string, logger *zap.Logger) (*ChromeDriver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if devtoolsURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(parent, devtoolsURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(parent, opts...)
	}

	ctx, ctxCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		ctxCancel()
		allocCancel()
	}

	d := &ChromeDriver{
		ctx:       ctx,
		cancel:    cancel,
		targetURL: targetURL,
		logger:    logger,
	}
	if err := d.EnsureNavigated(ctx); err != nil {
		cancel()
		return nil, err
	}
	return d, nil
}

// EnsureNavigated checks the attached tab's location and navigates to the
// target URL when it is anywhere else. Returns once the document is ready.
func (d *ChromeDriver) EnsureNavigated(ctx context.Context) error {
	runCtx, release := d.run(ctx)
	defer release()

	var current string
	if err := chromedp.Run(runCtx, chromedp.Location(&current)); err != nil {
		return fmt.Errorf("read location: %w", err)
	}
	if strings.Contains(current, d.targetURL) || strings.Contains(d.targetURL, current) {
		return nil
	}
	d.logger.Info("navigating to messenger", zap.String("from", current), zap.String("to", d.targetURL))
	if err := chromedp.Run(runCtx,
		chromedp.Navigate(d.targetURL),
		chromedp.WaitReady("body"),
	); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

// Snapshot captures the full page HTML and parses it.
func (d *ChromeDriver) Snapshot(ctx context.Context) (*Document, error) {
	runCtx, release := d.run(ctx)
	defer release()
	var raw string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &raw)); err != nil {
		return nil, fmt.Errorf("capture html: %w", err)
	}
	return ParseDocument(raw, d.seq.Add(1))
}

// Click dispatches a click on the first element matching selector.
func (d *ChromeDriver) Click(ctx context.Context, selector string) error {
	if selector == "" {
		return fmt.Errorf("click: empty selector")
	}
	runCtx, release := d.run(ctx)
	defer release()
	if err := chromedp.Run(runCtx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// Eval runs JavaScript in the page context.
func (d *ChromeDriver) Eval(ctx context.Context, js string, out any) error {
	runCtx, release := d.run(ctx)
	defer release()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// Navigate loads the given URL in the attached tab.
func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	runCtx, release := d.run(ctx)
	defer release()
	if err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// AddInitScript installs JavaScript that runs on every new document in the
// attached tab, so injected UI survives host-page navigations.
func (d *ChromeDriver) AddInitScript(ctx context.Context, js string) error {
	runCtx, release := d.run(ctx)
	defer release()
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := cdppage.AddScriptToEvaluateOnNewDocument(js).Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("add init script: %w", err)
	}
	return nil
}

// Close detaches from the browser. A launched browser is terminated; an
// attached one keeps running.
func (d *ChromeDriver) Close() {
	d.cancel()
}

// run combines the chromedp context with the caller's cancellation. The
// returned release must be called once the action finishes, or the link to
// the caller's context accumulates across the snapshot loop.
func (d *ChromeDriver) run(ctx context.Context) (context.Context, context.CancelFunc) {
	return mergeContext(d.ctx, ctx)
}

// mergeContext derives a child of base that is also canceled when ctx ends.
func mergeContext(base, ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return base, func() {}
	}
	merged, cancel := context.WithCancel(base)
	stop := context.AfterFunc(ctx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
