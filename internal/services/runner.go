package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/miradorstack/mirador-pof/internal/cache"
	"github.com/miradorstack/mirador-pof/internal/config"
	"github.com/miradorstack/mirador-pof/internal/engine"
	"github.com/miradorstack/mirador-pof/internal/loader"
	"github.com/miradorstack/mirador-pof/internal/metrics"
	"github.com/miradorstack/mirador-pof/internal/models"
	"github.com/miradorstack/mirador-pof/internal/store"
	"github.com/miradorstack/mirador-pof/internal/utils"
)

var (
	// ErrInvalidRequest marks requests rejected before a run starts.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRunNotFound is returned for unknown run ids.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunNotFinished is returned for reports on running runs.
	ErrRunNotFinished = errors.New("run not finished")
)

// maxTrackedRuns bounds the registry; the oldest finished runs are dropped
// first.
const maxTrackedRuns = 512

// ReportStore persists finished report rows keyed by run id.
type ReportStore interface {
	SaveRun(ctx context.Context, r store.RunRecord) error
	SavePOF(ctx context.Context, runID string, rows []models.POFRow) error
	SaveCosts(ctx context.Context, runID string, rows []models.CostRow) error
	SaveSummary(ctx context.Context, runID string, rows []models.SummaryRow) error
	SaveSensitivity(ctx context.Context, runID string, rows []models.SensitivityRow) error
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Logger     *slog.Logger
	Simulation config.SimulationConfig
	// Models are the preloaded component records addressable by name.
	Models map[string]*models.ComponentSpec
	// Cache holds rendered reports; nil disables caching.
	Cache    cache.Provider
	CacheTTL time.Duration
	// Store receives report rows of finished runs; nil disables export.
	Store ReportStore
}

// Runner owns background ensemble and sensitivity runs.
type Runner struct {
	logger    *slog.Logger
	sim       config.SimulationConfig
	specs     map[string]*models.ComponentSpec
	cache     cache.Provider
	cacheTTL  time.Duration
	store     ReportStore
	durations *utils.DurationTracker

	mu    sync.RWMutex
	runs  map[string]*run
	order []string
	wg    sync.WaitGroup
}

type run struct {
	comp   *engine.Component
	seed   uint64
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	info models.RunInfo
	sens []models.SensitivityRow
}

// NewRunner constructs a Runner.
func NewRunner(opts RunnerOptions) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopProvider{}
	}
	if opts.Simulation.Confidence <= 0 || opts.Simulation.Confidence >= 1 {
		opts.Simulation.Confidence = config.Default().Simulation.Confidence
	}
	specs := make(map[string]*models.ComponentSpec, len(opts.Models))
	for name, spec := range opts.Models {
		specs[name] = spec
	}
	return &Runner{
		logger:    opts.Logger,
		sim:       opts.Simulation,
		specs:     specs,
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
		store:     opts.Store,
		durations: utils.NewDurationTracker(1024),
		runs:      make(map[string]*run),
	}
}

// Models lists the preloaded component names.
func (r *Runner) Models() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Simulate builds the referenced component and starts an ensemble in the
// background. With req.Wait it blocks until the run ends or ctx is done.
func (r *Runner) Simulate(ctx context.Context, req models.SimulateRequest) (models.RunInfo, error) {
	if err := loader.ValidateStruct("simulate request", req); err != nil {
		return models.RunInfo{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	n, tEnd, err := r.bounds(req.Iterations, req.TEnd)
	if err != nil {
		return models.RunInfo{}, err
	}
	seed := r.seed(req.Seed)
	comp, err := r.component(req.ModelRef, seed, req.Updates)
	if err != nil {
		return models.RunInfo{}, err
	}

	// runs outlive the request; only Cancel and Close stop them
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rn := r.register(models.RunSimulate, comp, cancel, seed, n, tEnd)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.runSimulation(runCtx, rn, n, tEnd)
	}()
	return r.wait(ctx, rn, req.Wait)
}

// Sensitivity starts a chained sweep in the background.
func (r *Runner) Sensitivity(ctx context.Context, req models.SensitivityRequest) (models.RunInfo, error) {
	if err := loader.ValidateStruct("sensitivity request", req); err != nil {
		return models.RunInfo{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	n, tEnd, err := r.bounds(req.Iterations, req.TEnd)
	if err != nil {
		return models.RunInfo{}, err
	}
	seed := r.seed(req.Seed)
	comp, err := r.component(req.ModelRef, seed, req.Updates)
	if err != nil {
		return models.RunInfo{}, err
	}
	sweeps := make([]engine.Sweep, 0, len(req.Sweeps))
	for _, s := range req.Sweeps {
		p, err := comp.Resolve(s.Path)
		if err != nil {
			return models.RunInfo{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		sweeps = append(sweeps, engine.Sweep{Path: p, Values: s.Values})
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rn := r.register(models.RunSensitivity, comp, cancel, seed, n, tEnd)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.runSensitivity(runCtx, rn, sweeps, n, tEnd)
	}()
	return r.wait(ctx, rn, req.Wait)
}

// Cancel stops a running run. Cancelling a finished run is a no-op.
func (r *Runner) Cancel(id string) (models.RunInfo, error) {
	rn, err := r.lookup(id)
	if err != nil {
		return models.RunInfo{}, err
	}
	rn.stop()
	r.logger.Info("run cancel requested", slog.String("run_id", id))
	return rn.snapshot(), nil
}

// Progress returns the current state of a run.
func (r *Runner) Progress(id string) (models.RunInfo, error) {
	rn, err := r.lookup(id)
	if err != nil {
		return models.RunInfo{}, err
	}
	return rn.snapshot(), nil
}

// Wait blocks until the run ends or ctx is done.
func (r *Runner) Wait(ctx context.Context, id string) (models.RunInfo, error) {
	rn, err := r.lookup(id)
	if err != nil {
		return models.RunInfo{}, err
	}
	return r.wait(ctx, rn, true)
}

// Report computes one report of a finished run. Rendered reports are
// cached; a cache hit returns the rows as raw JSON.
func (r *Runner) Report(ctx context.Context, req models.ReportRequest) (*models.Report, error) {
	if err := loader.ValidateStruct("report request", req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	rn, err := r.lookup(req.RunID)
	if err != nil {
		return nil, err
	}
	info := rn.snapshot()
	if info.State == models.RunRunning {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFinished, req.RunID)
	}
	if req.Confidence == 0 {
		req.Confidence = r.sim.Confidence
	}

	key := reportKey(req)
	if raw, err := r.cache.Get(ctx, key); err == nil {
		return &models.Report{RunID: req.RunID, Kind: req.Kind, Rows: json.RawMessage(raw)}, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		r.logger.Warn("report cache read failed", slog.String("key", key), slog.Any("error", err))
	}

	ctx, span := utils.StartSpan(ctx, "runner.report",
		attribute.String("run_id", req.RunID),
		attribute.String("kind", string(req.Kind)),
	)
	defer span.End()

	rows, err := r.render(rn, info, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if raw, err := json.Marshal(rows); err == nil {
		if _, err := r.cache.SetNX(ctx, key, raw, r.cacheTTL); err != nil {
			r.logger.Warn("report cache write failed", slog.String("key", key), slog.Any("error", err))
		}
	}
	return &models.Report{RunID: req.RunID, Kind: req.Kind, Rows: rows}, nil
}

// Health summarises the registry and recent run timings.
func (r *Runner) Health() models.Health {
	r.mu.RLock()
	active := 0
	for _, rn := range r.runs {
		if rn.snapshot().State == models.RunRunning {
			active++
		}
	}
	tracked := len(r.runs)
	r.mu.RUnlock()

	sum := r.durations.Summary()
	return models.Health{
		Status:      "SERVING",
		Models:      r.Models(),
		RunsActive:  active,
		RunsTracked: tracked,
		RunP50:      sum.P50,
		RunP95:      sum.P95,
	}
}

// Close cancels every running run and waits for them to finish.
func (r *Runner) Close() {
	r.mu.RLock()
	for _, rn := range r.runs {
		rn.stop()
	}
	r.mu.RUnlock()
	r.wg.Wait()
}

func (r *Runner) bounds(n, tEnd int) (int, int, error) {
	if n == 0 {
		n = r.sim.Iterations
	}
	if tEnd == 0 {
		tEnd = r.sim.TEnd
	}
	if n <= 0 {
		return 0, 0, fmt.Errorf("%w: iterations must be positive", ErrInvalidRequest)
	}
	if r.sim.MaxIterations > 0 && n > r.sim.MaxIterations {
		return 0, 0, fmt.Errorf("%w: iterations %d exceeds limit %d", ErrInvalidRequest, n, r.sim.MaxIterations)
	}
	return n, tEnd, nil
}

func (r *Runner) seed(s *uint64) uint64 {
	if s != nil {
		return *s
	}
	return r.sim.Seed
}

func (r *Runner) component(ref models.ModelRef, seed uint64, updates []models.Update) (*engine.Component, error) {
	var spec *models.ComponentSpec
	switch {
	case ref.Spec != nil && ref.Model != "":
		return nil, fmt.Errorf("%w: set either model or spec, not both", ErrInvalidRequest)
	case ref.Spec != nil:
		spec = ref.Spec
	case ref.Model != "":
		s, ok := r.specs[ref.Model]
		if !ok {
			return nil, fmt.Errorf("%w: unknown model %q", ErrInvalidRequest, ref.Model)
		}
		cp := *s
		spec = &cp
	default:
		return nil, fmt.Errorf("%w: model or spec required", ErrInvalidRequest)
	}

	l := loader.New(loader.Options{
		UseDefaults: r.sim.UseDefaults,
		Logger:      r.logger,
		Engine:      engine.Options{Workers: r.sim.Workers, Seed: seed, Logger: r.logger},
	})
	comp, err := l.Build(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for _, u := range updates {
		if err := comp.UpdateString(u.Path, u.Value); err != nil {
			return nil, fmt.Errorf("%w: update %s: %v", ErrInvalidRequest, u.Path, err)
		}
	}
	return comp, nil
}

func (r *Runner) register(kind models.RunKind, comp *engine.Component, cancel context.CancelFunc, seed uint64, n, tEnd int) *run {
	// a Cancel arriving before the worker starts must not be lost
	comp.Arm()
	rn := &run{
		comp:   comp,
		seed:   seed,
		cancel: cancel,
		done:   make(chan struct{}),
		info: models.RunInfo{
			ID:         uuid.NewString(),
			Kind:       kind,
			Component:  comp.Name(),
			State:      models.RunRunning,
			Iterations: n,
			TEnd:       tEnd,
			StartedAt:  time.Now().UTC(),
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[rn.info.ID] = rn
	r.order = append(r.order, rn.info.ID)
	r.prune()
	return rn
}

// prune drops the oldest finished runs beyond maxTrackedRuns. Callers hold mu.
func (r *Runner) prune() {
	if len(r.runs) <= maxTrackedRuns {
		return
	}
	kept := r.order[:0]
	excess := len(r.runs) - maxTrackedRuns
	for _, id := range r.order {
		rn := r.runs[id]
		if excess > 0 && rn.snapshot().State != models.RunRunning {
			delete(r.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

func (r *Runner) lookup(id string) (*run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rn, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return rn, nil
}

func (r *Runner) wait(ctx context.Context, rn *run, block bool) (models.RunInfo, error) {
	if !block {
		return rn.snapshot(), nil
	}
	select {
	case <-rn.done:
	case <-ctx.Done():
		return rn.snapshot(), ctx.Err()
	}
	return rn.snapshot(), nil
}

func (r *Runner) runSimulation(ctx context.Context, rn *run, n, tEnd int) {
	defer metrics.RunStarted()()
	start := time.Now()
	ens, err := rn.comp.Simulate(ctx, tEnd, n)

	var life float64
	if err == nil && ens.N() > 0 {
		life, _ = rn.comp.ExpectedLife()
	}
	rn.finish(func(info *models.RunInfo) {
		if err != nil {
			info.State = models.RunFailed
			info.Error = err.Error()
			return
		}
		info.State = stateOf(ens.Status)
		info.Completed = ens.N()
		info.Outcomes = outcomeCounts(ens)
		info.Life = life
	})
	r.observe(rn, time.Since(start))
	if err != nil {
		r.logger.Error("simulation failed", slog.String("run_id", rn.info.ID), slog.Any("error", err))
		return
	}
	r.export(context.WithoutCancel(ctx), rn)
}

func (r *Runner) runSensitivity(ctx context.Context, rn *run, sweeps []engine.Sweep, n, tEnd int) {
	defer metrics.RunStarted()()
	start := time.Now()
	rows, err := rn.comp.SensitivityChain(ctx, sweeps, tEnd, n)
	cancelled := rn.comp.Cancelled() || ctx.Err() != nil

	rn.finish(func(info *models.RunInfo) {
		switch {
		case err != nil && !cancelled:
			info.State = models.RunFailed
			info.Error = err.Error()
		case cancelled:
			info.State = models.RunCancelled
		default:
			info.State = models.RunComplete
		}
		info.Completed = int(float64(info.Iterations) * rn.comp.SensProgress())
	}, rows...)
	r.observe(rn, time.Since(start))
	if err != nil && !cancelled {
		r.logger.Error("sensitivity failed", slog.String("run_id", rn.info.ID), slog.Any("error", err))
		return
	}
	r.export(context.WithoutCancel(ctx), rn)
}

func (r *Runner) observe(rn *run, elapsed time.Duration) {
	info := rn.snapshot()
	r.durations.Observe(elapsed)
	metrics.ObserveRun(string(info.Kind), string(info.State), info.Completed, elapsed)
	if count := r.durations.Count(); count >= 20 && count%20 == 0 {
		r.logger.Info("run latency", slog.Duration("p95", r.durations.Percentile(95)), slog.Int("samples", count))
	}
}

// export writes the run's default reports to the store. Failures are logged.
func (r *Runner) export(ctx context.Context, rn *run) {
	if r.store == nil {
		return
	}
	info := rn.snapshot()
	rec := store.RunRecord{
		ID:         info.ID,
		Kind:       string(info.Kind),
		Component:  info.Component,
		Status:     string(info.State),
		Iterations: info.Iterations,
		Completed:  info.Completed,
		TEnd:       info.TEnd,
		Seed:       rn.seed,
		CreatedAt:  info.StartedAt,
	}
	err := r.store.SaveRun(ctx, rec)
	if err == nil {
		err = r.exportRows(ctx, rn, info)
	}
	if err != nil {
		r.logger.Warn("report export failed", slog.String("run_id", info.ID), slog.Any("error", err))
	}
}

func (r *Runner) exportRows(ctx context.Context, rn *run, info models.RunInfo) error {
	if info.Kind == models.RunSensitivity {
		return r.store.SaveSensitivity(ctx, info.ID, rn.sensitivity())
	}
	if info.Completed == 0 {
		return nil
	}
	pof, err := rn.comp.ExpectedPOF()
	if err != nil {
		return err
	}
	if err := r.store.SavePOF(ctx, info.ID, pof); err != nil {
		return err
	}
	costs, err := rn.comp.ExpectedRiskCost()
	if err != nil {
		return err
	}
	if err := r.store.SaveCosts(ctx, info.ID, costs); err != nil {
		return err
	}
	summary, err := rn.comp.CalcSummary(nil, r.sim.Confidence)
	if err != nil {
		return err
	}
	return r.store.SaveSummary(ctx, info.ID, summary)
}

func (r *Runner) render(rn *run, info models.RunInfo, req models.ReportRequest) (any, error) {
	if info.Kind == models.RunSensitivity {
		if req.Kind != models.ReportSensitivity {
			return nil, fmt.Errorf("%w: sensitivity runs only provide the sensitivity report", ErrInvalidRequest)
		}
		return rn.sensitivity(), nil
	}
	if info.Completed == 0 {
		return nil, fmt.Errorf("%w: %v", ErrRunNotFinished, engine.ErrNoIterations)
	}

	c := rn.comp
	switch req.Kind {
	case models.ReportPOF:
		return c.ExpectedPOF()
	case models.ReportUntreated:
		tEnd := req.TEnd
		if tEnd == 0 {
			tEnd = info.TEnd
		}
		return c.ExpectedUntreated(tEnd)
	case models.ReportRiskCost:
		return c.ExpectedRiskCost()
	case models.ReportCondition:
		bands, err := c.ExpectedCondition(req.Confidence)
		if err != nil {
			return nil, err
		}
		return c.ConditionRows(bands), nil
	case models.ReportSummary:
		return c.CalcSummary(req.Cohort, req.Confidence)
	case models.ReportForecast:
		if req.Profile == nil || req.Years <= 0 {
			return nil, fmt.Errorf("%w: forecast needs a profile and years", ErrInvalidRequest)
		}
		return c.TaskForecast(*req.Profile, req.Years)
	case models.ReportSensitivity:
		return nil, fmt.Errorf("%w: run %s is not a sensitivity run", ErrInvalidRequest, info.ID)
	default:
		return nil, fmt.Errorf("%w: unknown report kind %q", ErrInvalidRequest, req.Kind)
	}
}

func reportKey(req models.ReportRequest) string {
	raw, _ := json.Marshal(req)
	sum := sha256.Sum256(raw)
	return "report:" + req.RunID + ":" + string(req.Kind) + ":" + hex.EncodeToString(sum[:8])
}

func stateOf(s engine.Status) models.RunState {
	if s == engine.StatusCancelled {
		return models.RunCancelled
	}
	return models.RunComplete
}

func outcomeCounts(ens *engine.Ensemble) map[string]int {
	counts := ens.OutcomeCounts()
	out := make(map[string]int, len(counts))
	for k, v := range counts {
		out[string(k)] = v
	}
	return out
}

func (rn *run) snapshot() models.RunInfo {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	info := rn.info
	if info.State == models.RunRunning {
		if info.Kind == models.RunSensitivity {
			info.Progress = rn.comp.SensProgress()
		} else {
			info.Progress = rn.comp.Progress()
		}
	}
	return info
}

func (rn *run) stop() {
	rn.comp.Cancel()
	rn.cancel()
}

func (rn *run) finish(apply func(*models.RunInfo), sens ...models.SensitivityRow) {
	rn.mu.Lock()
	apply(&rn.info)
	now := time.Now().UTC()
	rn.info.FinishedAt = &now
	if rn.info.State == models.RunComplete {
		rn.info.Progress = 1
	} else if rn.info.Iterations > 0 {
		rn.info.Progress = float64(rn.info.Completed) / float64(rn.info.Iterations)
	}
	rn.sens = sens
	rn.mu.Unlock()
	close(rn.done)
}

func (rn *run) sensitivity() []models.SensitivityRow {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.sens
}
