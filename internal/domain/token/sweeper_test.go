package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeReaper struct {
	cutoff time.Time
	reason string
	calls  int
}

func (f *fakeReaper) FailStalePending(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	f.calls++
	f.cutoff = olderThan
	f.reason = reason
	return 1, nil
}

func TestSweeperExpiresLapsedTokens(t *testing.T) {
	svc, repo, clock := newTestService(t)
	owner := uuid.New()
	m := repo.addMerchant(owner, true)
	stale := issue(t, svc, owner, m, "2.30")

	clock.Advance(31 * time.Minute)
	fresh := issue(t, svc, owner, m, "1.00")

	reaper := &fakeReaper{}
	sweeper := NewSweeper(svc, reaper, SweeperConfig{BatchSize: 10, PendingTimeout: 5 * time.Minute})
	sweeper.RunOnce(context.Background())

	if repo.status(stale.Code) != StatusExpired {
		t.Fatalf("expected stale token expired, got %s", repo.status(stale.Code))
	}
	if repo.status(fresh.Code) != StatusUnused {
		t.Fatalf("fresh token must stay unused, got %s", repo.status(fresh.Code))
	}
	if _, err := svc.Validate(context.Background(), stale.Code); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if reaper.calls != 1 || reaper.reason != "abandoned" || !reaper.cutoff.Equal(clock.Now().Add(-5*time.Minute)) {
		t.Fatalf("unexpected reaper call %+v", reaper)
	}
}

func TestSweeperNeverExpiresRedeemedTokens(t *testing.T) {
	svc, repo, clock := newTestService(t)
	owner := uuid.New()
	tok := issue(t, svc, owner, repo.addMerchant(owner, true), "2.30")

	if ok, _ := svc.TryMarkUsed(context.Background(), nil, tok.ID, "TXN_A"); !ok {
		t.Fatal("expected redemption")
	}
	clock.Advance(time.Hour)

	NewSweeper(svc, nil, SweeperConfig{}).RunOnce(context.Background())

	if repo.status(tok.Code) != StatusUsed {
		t.Fatalf("used token must stay used, got %s", repo.status(tok.Code))
	}
}

func TestSweeperDrainsBacklogInBatches(t *testing.T) {
	svc, repo, clock := newTestService(t)
	owner := uuid.New()
	m := repo.addMerchant(owner, true)
	for i := 0; i < 7; i++ {
		issue(t, svc, owner, m, "1.00")
	}
	clock.Advance(time.Hour)

	NewSweeper(svc, nil, SweeperConfig{BatchSize: 3}).RunOnce(context.Background())

	for _, tok := range repo.tokens {
		if tok.Status != StatusExpired {
			t.Fatalf("expected all tokens expired, %s is %s", tok.Code, tok.Status)
		}
	}
}

func TestSweeperStopsOnCancel(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewSweeper(svc, nil, SweeperConfig{Interval: time.Millisecond}).Start(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
