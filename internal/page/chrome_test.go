package page

import (
	"context"
	"testing"
	"time"
)

func assertDone(t *testing.T, ctx context.Context) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not canceled")
	}
}

func TestMergeContextCallerCancelPropagates(t *testing.T) {
	base := context.Background()
	caller, cancel := context.WithCancel(context.Background())

	merged, release := mergeContext(base, caller)
	defer release()

	cancel()
	assertDone(t, merged)
}

func TestMergeContextBaseCancelPropagates(t *testing.T) {
	base, cancelBase := context.WithCancel(context.Background())
	caller := context.Background()

	merged, release := mergeContext(base, caller)
	defer release()

	cancelBase()
	assertDone(t, merged)
}

func TestMergeContextReleaseEndsMerged(t *testing.T) {
	merged, release := mergeContext(context.Background(), context.Background())
	release()
	assertDone(t, merged)
}

func TestMergeContextNilCallerIsBase(t *testing.T) {
	base := context.Background()
	merged, release := mergeContext(base, nil)
	defer release()
	if merged != base {
		t.Fatal("nil caller must pass the base context through unchanged")
	}
}
