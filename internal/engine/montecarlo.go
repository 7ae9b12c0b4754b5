package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-pof/internal/utils"
)

// ErrInvalidRun is returned for non-positive iteration counts or negative
// end times.
var ErrInvalidRun = errors.New("invalid run parameters")

// control is the cancellation flag and progress counters shared by a
// component and the clones working for it.
type control struct {
	upToDate atomic.Bool
	// armed is set by Arm and consumed by the next run, which then keeps a
	// Cancel issued in between.
	armed    atomic.Bool
	// progress packs the run epoch in the high 32 bits and the completed
	// iteration count in the low 32 bits.
	progress atomic.Uint64
	total    atomic.Int64

	sensDone  atomic.Int64
	sensTotal atomic.Int64
}

// start clears a previous cancel unless the run was armed beforehand.
func (c *control) start() {
	if !c.armed.Swap(false) {
		c.upToDate.Store(true)
	}
}

func (c *control) begin(total int) uint32 {
	for {
		old := c.progress.Load()
		epoch := uint32(old>>32) + 1
		if c.progress.CompareAndSwap(old, uint64(epoch)<<32) {
			c.total.Store(int64(total))
			return epoch
		}
	}
}

// complete counts one iteration unless a cancel started a new epoch.
func (c *control) complete(epoch uint32) bool {
	for {
		old := c.progress.Load()
		if uint32(old>>32) != epoch {
			return false
		}
		if c.progress.CompareAndSwap(old, old+1) {
			return true
		}
	}
}

// cancel stops the run and returns the iterations it had counted. No
// completion after the epoch switch is counted.
func (c *control) cancel() int {
	c.upToDate.Store(false)
	var counted uint32
	for {
		old := c.progress.Load()
		epoch := uint32(old>>32) + 1
		if c.progress.CompareAndSwap(old, uint64(epoch)<<32) {
			counted = uint32(old)
			break
		}
	}
	c.sensDone.Store(0)
	return int(counted)
}

func (c *control) count() int { return int(uint32(c.progress.Load())) }

// Arm marks the component as about to run. A Cancel between Arm and the
// next Simulate or SensitivityChain cancels that run. Without Arm, a new
// run clears any earlier Cancel.
func (c *Component) Arm() {
	c.ctl.upToDate.Store(true)
	c.ctl.armed.Store(true)
}

// Simulate runs n iterations over [0, tEnd] on worker clones and stores the
// ensemble as the component's latest. Cancel stops it within one iteration
// per worker; the partial ensemble is returned with StatusCancelled.
func (c *Component) Simulate(ctx context.Context, tEnd, n int) (*Ensemble, error) {
	c.ctl.start()
	return c.simulate(ctx, tEnd, n)
}

func (c *Component) simulate(ctx context.Context, tEnd, n int) (*Ensemble, error) {
	if n <= 0 || tEnd < 0 {
		return nil, fmt.Errorf("%w: iterations %d, t_end %d", ErrInvalidRun, n, tEnd)
	}
	ctx, span := utils.StartSpan(ctx, "engine.simulate",
		attribute.String("component", c.name),
		attribute.Int("iterations", n),
		attribute.Int("t_end", tEnd),
	)
	defer span.End()

	start := time.Now()
	epoch := c.ctl.begin(n)
	ens := newEnsemble(tEnd, n, c.policy)

	workers := c.workers
	if workers > n {
		workers = n
	}
	pool := make(chan *Component, workers)
	for i := 0; i < workers; i++ {
		w := c.Clone()
		// the policy is fixed for the whole ensemble
		w.policy = ens.Policy
		pool <- w
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		if !c.ctl.upToDate.Load() || gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if !c.ctl.upToDate.Load() || gctx.Err() != nil {
				return nil
			}
			w := <-pool
			defer func() { pool <- w }()

			rng := rand.New(rand.NewPCG(c.seed, uint64(i)))
			it, err := w.SimTimeline(rng, 0, tEnd)
			if err != nil {
				return fmt.Errorf("iteration %d: %w", i, err)
			}
			if !c.ctl.complete(epoch) {
				return nil
			}
			ens.Iterations[i] = it
			return nil
		})
	}

	err := g.Wait()
	cancelled := !c.ctl.upToDate.Load() || ctx.Err() != nil
	if err != nil && !cancelled {
		span.RecordError(err)
		return nil, err
	}
	if err != nil {
		c.logger.Debug("iteration error after cancel", slog.Any("error", err))
	}
	if cancelled {
		ens.Status = StatusCancelled
	}

	c.setEnsemble(ens)
	c.logger.Info("ensemble finished",
		slog.String("component", c.name),
		slog.String("status", string(ens.Status)),
		slog.Int("completed", ens.N()),
		slog.Int("requested", n),
		slog.Duration("elapsed", time.Since(start)),
	)
	return ens, nil
}

// Cancel stops the running ensemble and zeroes progress.
func (c *Component) Cancel() {
	c.ctl.cancel()
}

// Progress is the completed fraction of the current ensemble.
func (c *Component) Progress() float64 {
	total := c.ctl.total.Load()
	if total <= 0 {
		return 0
	}
	return float64(c.ctl.count()) / float64(total)
}

// SensProgress is the completed fraction of a sensitivity sweep, counting
// iterations of the point in progress.
func (c *Component) SensProgress() float64 {
	points := c.ctl.sensTotal.Load()
	perPoint := c.ctl.total.Load()
	if points <= 0 || perPoint <= 0 {
		return 0
	}
	done := c.ctl.sensDone.Load() * perPoint
	// a finished point is already counted in sensDone
	if cur := int64(c.ctl.count()); cur < perPoint {
		done += cur
	}
	return min(float64(done)/float64(points*perPoint), 1)
}
