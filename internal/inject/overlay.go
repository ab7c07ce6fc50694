package inject

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// InitScripter installs a script that runs in every new document before the
// page's own code. Optional: drivers without it just skip the guard.
type InitScripter interface {
	AddInitScript(ctx context.Context, js string) error
}

// Overlay is the full-viewport blocking layer shown while the daemon works
// through the page, with a scrolling log feed so whoever is looking at the
// browser can see why their clicks go nowhere.
type Overlay struct {
	drv    Evaler
	logger *zap.Logger
}

// NewOverlay creates an overlay controller.
func NewOverlay(drv Evaler, logger *zap.Logger) *Overlay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Overlay{drv: drv, logger: logger}
}

// InstallGuard registers a message-event filter that drops cross-origin
// window messages before the page's listeners see them. Best effort: pages
// can add listeners the guard cannot intercept, and drivers without init
// script support skip it entirely.
func (o *Overlay) InstallGuard(ctx context.Context, drv any) error {
	is, ok := drv.(InitScripter)
	if !ok {
		o.logger.Debug("driver lacks init script support, message guard skipped")
		return nil
	}
	js := `(() => {
  window.addEventListener('message', (e) => {
    if (e.origin !== window.location.origin) e.stopImmediatePropagation();
  }, true);
})()`
	if err := is.AddInitScript(ctx, js); err != nil {
		return fmt.Errorf("install message guard: %w", err)
	}
	return nil
}

// Show raises the overlay, creating it on first use. Repeated calls are
// idempotent.
func (o *Overlay) Show(ctx context.Context) error {
	js := fmt.Sprintf(`(() => {
  let ov = document.getElementById(%q);
  if (!ov) {
    ov = document.createElement('div');
    ov.id = %q;
    ov.style.cssText = 'position:fixed;inset:0;z-index:2147483647;background:rgba(0,0,0,0.75);color:#eee;font:12px monospace;display:flex;align-items:center;justify-content:center;';
    const log = document.createElement('pre');
    log.id = %q;
    log.style.cssText = 'max-width:80%%;max-height:60%%;overflow:auto;white-space:pre-wrap;';
    ov.appendChild(log);
    ov.addEventListener('click', (e) => { e.stopPropagation(); e.preventDefault(); }, true);
    document.body.appendChild(ov);
  }
  ov.style.display = 'flex';
})()`, OverlayID, OverlayID, OverlayLogID)
	if err := o.drv.Eval(ctx, js, nil); err != nil {
		return fmt.Errorf("show overlay: %w", err)
	}
	return nil
}

// Hide lowers the overlay without destroying it.
func (o *Overlay) Hide(ctx context.Context) error {
	js := fmt.Sprintf(`(() => {
  const ov = document.getElementById(%q);
  if (ov) ov.style.display = 'none';
})()`, OverlayID)
	if err := o.drv.Eval(ctx, js, nil); err != nil {
		return fmt.Errorf("hide overlay: %w", err)
	}
	return nil
}

// AppendLog adds one line to the overlay's log feed, keeping the last 50.
func (o *Overlay) AppendLog(ctx context.Context, line string) error {
	js := fmt.Sprintf(`(() => {
  const log = document.getElementById(%q);
  if (!log) return;
  const lines = log.textContent ? log.textContent.split('\n') : [];
  lines.push(%q);
  while (lines.length > 50) lines.shift();
  log.textContent = lines.join('\n');
  log.scrollTop = log.scrollHeight;
})()`, OverlayLogID, line)
	if err := o.drv.Eval(ctx, js, nil); err != nil {
		return fmt.Errorf("append overlay log: %w", err)
	}
	return nil
}
