package inject

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Element ids for everything the daemon injects into the page. Fixed ids
// make every injection idempotent: re-ensuring finds the existing element
// instead of stacking duplicates across page re-renders.
const (
	ActionButtonID = "adsync-action"
	PhoneLabelID   = "adsync-phone"
	OverlayID      = "adsync-overlay"
	OverlayLogID   = "adsync-overlay-log"
)

// Evaler runs JavaScript in the attached page.
type Evaler interface {
	Eval(ctx context.Context, js string, out any) error
}

// EnsureState reports what one ensure pass did in the page.
type EnsureState struct {
	CreatedButton bool `json:"createdButton"`
	CreatedLabel  bool `json:"createdLabel"`
	Attached      bool `json:"attached"`
}

// Injector maintains the daemon's in-page surface: one action button and
// one phone label in the chat header. The page re-renders its header at
// will, so Ensure must be called repeatedly; each call repositions the
// existing elements or recreates them, never duplicates them.
type Injector struct {
	drv    Evaler
	logger *zap.Logger
}

// NewInjector creates an injector over the given page driver.
func NewInjector(drv Evaler, logger *zap.Logger) *Injector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Injector{drv: drv, logger: logger}
}

// Ensure creates or repositions the button and label. phoneDisplay is shown
// in the label ("" leaves it blank); busy disables the button. The disabled
// state is re-asserted on every call because the page sometimes resets
// attributes during its own renders.
func (i *Injector) Ensure(ctx context.Context, phoneDisplay string, busy bool) (*EnsureState, error) {
	js := fmt.Sprintf(`(() => {
  const header = document.querySelector('[data-testid="chat-top-bar"]');
  const out = { createdButton: false, createdLabel: false, attached: false };
  if (!header) return out;
  out.attached = true;

  let btn = document.getElementById(%q);
  if (!btn) {
    btn = document.createElement('button');
    btn.id = %q;
    btn.type = 'button';
    btn.textContent = 'Sync';
    btn.style.cssText = 'margin-left:8px;padding:2px 10px;border-radius:4px;';
    btn.addEventListener('click', () => { window.__adsyncAction = Date.now(); });
    out.createdButton = true;
  }
  if (btn.parentElement !== header) header.appendChild(btn);
  btn.disabled = %t;
  btn.setAttribute('aria-disabled', String(btn.disabled));
  btn.style.pointerEvents = btn.disabled ? 'none' : 'auto';

  let label = document.getElementById(%q);
  if (!label) {
    label = document.createElement('span');
    label.id = %q;
    label.style.cssText = 'margin-left:8px;font-weight:bold;';
    out.createdLabel = true;
  }
  if (label.parentElement !== header) header.appendChild(label);
  label.textContent = %q;

  return out;
})()`, ActionButtonID, ActionButtonID, busy, PhoneLabelID, PhoneLabelID, phoneDisplay)

	var state EnsureState
	if err := i.drv.Eval(ctx, js, &state); err != nil {
		return nil, fmt.Errorf("ensure injected ui: %w", err)
	}
	if state.CreatedButton || state.CreatedLabel {
		i.logger.Debug("injected header ui",
			zap.Bool("button", state.CreatedButton), zap.Bool("label", state.CreatedLabel))
	}
	return &state, nil
}

// PendingAction reports whether the injected button was clicked since the
// last check, clearing the flag.
func (i *Injector) PendingAction(ctx context.Context) (bool, error) {
	js := `(() => {
  const v = !!window.__adsyncAction;
  window.__adsyncAction = undefined;
  return v;
})()`
	var clicked bool
	if err := i.drv.Eval(ctx, js, &clicked); err != nil {
		return false, fmt.Errorf("poll injected action: %w", err)
	}
	return clicked, nil
}
