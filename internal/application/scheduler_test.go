package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openforum/skyrelay/internal/domain/model"
)

func TestRefreshScheduler_RunsImmediatePassAndStops(t *testing.T) {
	f := newLifecycleFixture(t)
	f.seedLinked(t, "acct-1", f.now.Add(5*time.Minute))
	f.client.refreshSessionFn = func(_ context.Context, _ *model.Session) (*model.Session, error) {
		return &model.Session{DID: testDID, Handle: testHandle, AccessToken: "access-new", RenewalToken: "renewal-new"}, nil
	}

	scheduler := NewRefreshScheduler(f.svc, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scheduler.Start(ctx)
		close(done)
	}()

	// The immediate pass refreshes the stale account; poll until it lands.
	require.Eventually(t, func() bool {
		return f.client.refreshCalls() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on context cancel")
	}
}

func TestNewRefreshScheduler_DefaultsInterval(t *testing.T) {
	f := newLifecycleFixture(t)
	scheduler := NewRefreshScheduler(f.svc, 0)
	assert.Equal(t, DefaultRefreshInterval, scheduler.interval)
}
