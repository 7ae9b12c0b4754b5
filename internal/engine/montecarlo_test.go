package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestControlEpochs(t *testing.T) {
	var ctl control
	ctl.upToDate.Store(true)
	epoch := ctl.begin(10)
	if !ctl.complete(epoch) || !ctl.complete(epoch) {
		t.Fatalf("expected completions in the current epoch to count")
	}
	if ctl.count() != 2 {
		t.Fatalf("expected count 2, got %d", ctl.count())
	}

	ctl.cancel()
	if ctl.upToDate.Load() {
		t.Fatalf("expected cancel to clear the up to date flag")
	}
	if ctl.count() != 0 {
		t.Fatalf("expected cancel to zero progress, got %d", ctl.count())
	}
	if ctl.complete(epoch) {
		t.Fatalf("expected a stale completion to be dropped")
	}
	if next := ctl.begin(5); next == epoch {
		t.Fatalf("expected a new epoch after cancel")
	}
}

func TestSimulateAfterCancelReturnsPartial(t *testing.T) {
	c := poleComponent(t, Policy{AllowSystemImpact: true})
	c.Cancel()

	// simulate does not re-arm the flag, so nothing is started
	ens, err := c.simulate(context.Background(), 50, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ens.Status != StatusCancelled {
		t.Fatalf("expected cancelled status, got %s", ens.Status)
	}
	if ens.N() != 0 || len(ens.Iterations) != 20 {
		t.Fatalf("expected 20 empty slots, got %d completed of %d", ens.N(), len(ens.Iterations))
	}
	if _, err := c.ExpectedPOF(); !errors.Is(err, ErrNoIterations) {
		t.Fatalf("expected no iterations error, got %v", err)
	}
}

func TestCancelDuringSimulate(t *testing.T) {
	c := poleComponent(t, Policy{AllowSystemImpact: true})
	const n = 200000

	type result struct {
		ens *Ensemble
		err error
	}
	done := make(chan result, 1)
	go func() {
		ens, err := c.Simulate(context.Background(), 200, n)
		done <- result{ens, err}
	}()

	deadline := time.After(30 * time.Second)
	for c.Progress() == 0 {
		select {
		case <-deadline:
			t.Fatalf("no progress before the deadline")
		case <-done:
			t.Fatalf("run finished before it could be cancelled")
		case <-time.After(time.Millisecond):
		}
		if p := c.Progress(); p < 0 || p > 1 {
			t.Fatalf("progress %v outside [0, 1]", p)
		}
	}
	counted := c.ctl.cancel()
	if got := c.Progress(); got != 0 {
		t.Fatalf("expected progress to reset on cancel, got %v", got)
	}

	var res result
	select {
	case res = <-done:
	case <-time.After(30 * time.Second):
		t.Fatalf("simulate did not stop after cancel")
	}
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if res.ens.Status != StatusCancelled {
		t.Fatalf("expected cancelled status, got %s", res.ens.Status)
	}
	if res.ens.N() >= n {
		t.Fatalf("expected a partial ensemble, got %d of %d", res.ens.N(), n)
	}
	// iterations finishing after the cancel are discarded
	if res.ens.N() != counted {
		t.Fatalf("expected %d counted iterations, ensemble holds %d", counted, res.ens.N())
	}
	if got := c.Progress(); got > float64(res.ens.N())/n {
		t.Fatalf("progress %v exceeds the completed fraction", got)
	}
}

func TestCancelAfterArmIsKept(t *testing.T) {
	c := poleComponent(t, Policy{AllowSystemImpact: true})
	c.Arm()
	c.Cancel()

	ens, err := c.Simulate(context.Background(), 50, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ens.Status != StatusCancelled || ens.N() != 0 {
		t.Fatalf("expected the armed run to stay cancelled, got %s with %d", ens.Status, ens.N())
	}

	// the arm is consumed; the next run starts fresh
	ens, err = c.Simulate(context.Background(), 50, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ens.Status != StatusComplete || ens.N() != 20 {
		t.Fatalf("expected a complete rerun, got %s with %d", ens.Status, ens.N())
	}
}

func TestSimulateHonoursContext(t *testing.T) {
	c := poleComponent(t, Policy{AllowSystemImpact: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ens, err := c.Simulate(ctx, 50, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ens.Status != StatusCancelled {
		t.Fatalf("expected cancelled status, got %s", ens.Status)
	}
}

func TestSimulateRejectsBadParameters(t *testing.T) {
	c := poleComponent(t, Policy{})
	if _, err := c.Simulate(context.Background(), 10, 0); !errors.Is(err, ErrInvalidRun) {
		t.Fatalf("expected invalid run for zero iterations, got %v", err)
	}
	if _, err := c.Simulate(context.Background(), -1, 5); !errors.Is(err, ErrInvalidRun) {
		t.Fatalf("expected invalid run for negative t_end, got %v", err)
	}
}

func TestSensProgressCountsPoints(t *testing.T) {
	c := poleComponent(t, Policy{})
	c.ctl.sensTotal.Store(4)
	c.ctl.sensDone.Store(1)
	epoch := c.ctl.begin(10)
	for i := 0; i < 5; i++ {
		c.ctl.complete(epoch)
	}
	// (1*10 + 5) / (4*10)
	if got := c.SensProgress(); got != 0.375 {
		t.Fatalf("expected 0.375, got %v", got)
	}
}
