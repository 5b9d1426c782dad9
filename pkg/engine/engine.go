// Package engine runs Jobs against package backends. Every Job holds its
// backend instance's lock for its whole run; query roles filter and walk the
// backend's package snapshot, transaction roles resolve a goal into a plan
// and either report it or execute it.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pkengine/internal/history"
	"pkengine/internal/telemetry"
	"pkengine/pkg/manager"
)

// History stores finished mutating Jobs.
type History interface {
	Record(entry *history.Entry) error
	List(limit int) ([]history.Entry, error)
}

// Options configures an Engine.
type Options struct {
	Registry *manager.Registry

	// Cache is the process-wide update cache. A fresh one is created when nil.
	Cache *UpdateCache

	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
	Tracer  trace.Tracer
	History History

	// CacheDir is the root download directory; payloads go to CacheDir/<backend>.
	CacheDir string

	// SupportedRepos lists repositories the supported filter accepts.
	SupportedRepos []string

	// DistroSync makes update listings and update-all use distro-sync goals.
	DistroSync bool

	// KeepCache keeps downloaded payloads after a successful commit.
	KeepCache bool
}

// Engine dispatches Jobs to role handlers.
type Engine struct {
	opts  Options
	cache *UpdateCache
	log   zerolog.Logger

	mu        sync.Mutex
	instances map[string]*instance
	jobs      map[string]*Job
	wg        sync.WaitGroup
}

// instance pairs a backend with the lock serializing all Jobs against it.
type instance struct {
	backend manager.Backend
	lock    *Lock
}

// Request asks for one Job.
type Request struct {
	Role    Role
	Params  Params
	Backend string // empty selects the registry default
	Sink    Sink
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Registry == nil {
		opts.Registry = manager.NewRegistry()
	}
	cache := opts.Cache
	if cache == nil {
		cache = NewUpdateCache()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("pkengine/engine")
	}
	return &Engine{
		opts:      opts,
		cache:     cache,
		log:       opts.Logger.With().Str("component", "engine").Logger(),
		instances: make(map[string]*instance),
		jobs:      make(map[string]*Job),
	}
}

// Cache returns the engine's update cache.
func (e *Engine) Cache() *UpdateCache {
	return e.cache
}

// Submit starts a Job on its own goroutine and returns it. Events go to
// req.Sink; the returned Job can be waited on or cancelled.
func (e *Engine) Submit(ctx context.Context, req Request) (*Job, error) {
	spec, ok := roleTable[req.Role]
	if !ok {
		return nil, NewError(CodeRoleUnknown, fmt.Sprintf("no handler for role %s", req.Role))
	}
	inst, err := e.instance(req.Backend)
	if err != nil {
		return nil, WrapError(CodeInternalError, "backend unavailable", err)
	}

	job := newJob(ctx, req.Role, req.Params, inst.backend.Name(), req.Sink, e.opts.Logger)
	e.mu.Lock()
	e.jobs[job.ID] = job
	active := len(e.jobs)
	e.mu.Unlock()
	e.opts.Metrics.SetActiveJobs(active)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(job, inst, spec)
	}()
	return job, nil
}

// Run submits a Job and waits for it. The returned error is the Job's
// failure, reported to the sink as an ErrorEvent as well.
func (e *Engine) Run(ctx context.Context, req Request) error {
	job, err := e.Submit(ctx, req)
	if err != nil {
		return err
	}
	return job.Wait()
}

// Cancel cancels a running Job by id.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	job, ok := e.jobs[id]
	e.mu.Unlock()
	if !ok {
		return NewError(CodeInternalError, fmt.Sprintf("no job with id %s", id))
	}
	return job.Cancel()
}

// Jobs returns the ids of Jobs that have not ended, sorted.
func (e *Engine) Jobs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.jobs))
	for id := range e.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wait blocks until every submitted Job has ended.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) instance(name string) (*instance, error) {
	b, err := e.opts.Registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instances[b.Name()]
	if !ok || inst.backend != b {
		inst = &instance{backend: b, lock: NewLock()}
		e.instances[b.Name()] = inst
	}
	return inst, nil
}

func (e *Engine) run(job *Job, inst *instance, spec roleSpec) {
	ctx, span := e.opts.Tracer.Start(job.Context(), "job."+job.Role.String(),
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.role", job.Role.String()),
			attribute.String("backend", inst.backend.Name()),
		))
	defer span.End()

	defer func() {
		e.mu.Lock()
		delete(e.jobs, job.ID)
		active := len(e.jobs)
		e.mu.Unlock()
		e.opts.Metrics.SetActiveJobs(active)
	}()

	job.log.Info().Msg("job started")
	waitStart := time.Now()

	body := func() error {
		e.opts.Metrics.ObserveLockWait(inst.backend.Name(), time.Since(waitStart))
		job.log.Debug().Dur("waited", time.Since(waitStart)).Msg("backend lock acquired")

		t := e.newTask(ctx, job, inst.backend)
		t.stages = spec.stages
		herr := e.dispatch(t, spec)
		simulated := job.Params.Flags.Has(FlagSimulate)
		if spec.invalidates && !simulated && (herr == nil || CodeOf(herr) == CodeTransactionError || t.committed) {
			e.cache.Invalidate()
		}
		if spec.mutating {
			e.record(job, herr)
		}
		e.end(job, span, herr)
		job.log.Debug().Msg("backend lock released")
		return nil
	}

	var err error
	switch {
	case spec.unlocked:
		err = body()
	case spec.local:
		// Local file roles read a throwaway snapshot, not the instance.
		err = NewLock().Do(ctx, body)
	default:
		err = inst.lock.Do(ctx, body)
	}
	if err != nil {
		e.end(job, span, WrapError(CodeCancelled, "cancelled while waiting for the backend", err))
	}
}

// dispatch runs the handler, turning a panic in a backend into an InternalError.
func (e *Engine) dispatch(t *task, spec roleSpec) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(CodeInternalError, fmt.Sprintf("backend panic: %v", r))
		}
	}()
	t.job.setStatus(StatusSetup)
	return spec.handler(t)
}

func (e *Engine) end(job *Job, span trace.Span, err error) {
	result := "success"
	if err != nil {
		result = string(CodeOf(err))
		span.SetStatus(codes.Error, MessageOf(err))
		job.log.Error().Str("code", result).Msg(MessageOf(err))
	} else {
		span.SetStatus(codes.Ok, "")
		job.log.Info().Dur("runtime", time.Since(job.started)).Msg("job finished")
	}
	e.opts.Metrics.RecordJob(job.Role.String(), result, time.Since(job.started))
	job.finish(err)
}

func (e *Engine) record(job *Job, err error) {
	if e.opts.History == nil || job.Params.Flags.Has(FlagSimulate) {
		return
	}
	entry := history.NewEntry(job.Role.String(), job.Backend, job.changed)
	entry.Duration = time.Since(job.started)
	if err != nil {
		entry.MarkFailed(err)
	} else {
		entry.MarkSuccess()
	}
	if rerr := e.opts.History.Record(entry); rerr != nil {
		job.log.Warn().Err(rerr).Msg("failed to record history")
	}
}

// task is the per-Job view handlers work with.
type task struct {
	ctx      context.Context
	engine   *Engine
	job      *Job
	backend  manager.Backend
	compare  manager.EVRCompareFunc
	pipeline *Pipeline
	stages   Stages

	// committed is set once a native commit was started, whatever followed.
	committed bool
}

func (e *Engine) newTask(ctx context.Context, job *Job, b manager.Backend) *task {
	cmp := manager.ComparerFor(b)
	return &task{
		ctx:     ctx,
		engine:  e,
		job:     job,
		backend: b,
		compare: cmp,
		pipeline: &Pipeline{
			Arch:           b.Arch(),
			SupportedRepos: e.opts.SupportedRepos,
			Compare:        cmp,
		},
	}
}

// downloadDir returns the directory payloads for this backend go to.
func (t *task) downloadDir() string {
	if t.job.Params.Directory != "" {
		return t.job.Params.Directory
	}
	root := t.engine.opts.CacheDir
	if root == "" {
		root = filepath.Join(os.TempDir(), "pkengine")
	}
	return filepath.Join(root, t.backend.Name())
}
