package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pkengine/pkg/manager"
)

// Params is the parameter bag a Job is created with. Each role reads the
// fields it needs and ignores the rest.
type Params struct {
	Filter     Filter
	Flags      TransactionFlags
	Values     []string // search terms, names or capabilities
	PackageIDs []string
	Files      []string // local package files
	Recursive  bool
	AllowDeps  bool
	Autoremove bool
	Force      bool
	Directory  string // download destination
	RepoID     string
	Key        string // repo-set-data parameter
	Value      string
	Enabled    bool
	DistroID   string
	JobID      string // target of a cancel
	Limit      int    // get-old-transactions
}

// Job is one unit of work: a role, its parameters, a cancellation token and
// the sink its events go to. Exactly one terminal event is delivered.
type Job struct {
	ID      string
	Role    Role
	Params  Params
	Backend string

	sink Sink
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	cancelRequested atomic.Bool
	cancelAllowed   atomic.Bool
	status          atomic.Int32

	mu         sync.Mutex // serializes emission
	terminated bool
	progress   int
	err        error
	started    time.Time
	done       chan struct{}

	// changed collects package ids touched by a mutating role for history.
	changed []string
}

func newJob(ctx context.Context, role Role, params Params, backend string, sink Sink, log zerolog.Logger) *Job {
	if sink == nil {
		sink = SinkFunc(func(Event) {})
	}
	id := uuid.New().String()
	jctx, cancel := context.WithCancel(ctx)
	j := &Job{
		ID:       id,
		Role:     role,
		Params:   params,
		Backend:  backend,
		sink:     sink,
		log:      log.With().Str("job", id).Str("role", role.String()).Str("backend", backend).Logger(),
		ctx:      jctx,
		cancel:   cancel,
		progress: -1,
		started:  time.Now(),
		done:     make(chan struct{}),
	}
	j.cancelAllowed.Store(true)
	return j
}

// Context returns the Job's context; it is cancelled by Cancel.
func (j *Job) Context() context.Context {
	return j.ctx
}

// Status returns the current status.
func (j *Job) Status() Status {
	return Status(j.status.Load())
}

// Done is closed once the terminal event has been delivered.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the Job ends and returns its failure, if any.
func (j *Job) Wait() error {
	<-j.done
	return j.err
}

// Cancel requests cooperative cancellation. It is refused while the native
// commit runs.
func (j *Job) Cancel() error {
	if !j.cancelAllowed.Load() {
		j.log.Warn().Msg("cancel refused during commit")
		return ErrCannotCancel
	}
	j.cancelRequested.Store(true)
	j.cancel()
	return nil
}

// Cancelled reports whether cancellation was requested and accepted.
func (j *Job) Cancelled() bool {
	return j.cancelRequested.Load()
}

// CancelAllowed reports whether Cancel would be accepted.
func (j *Job) CancelAllowed() bool {
	return j.cancelAllowed.Load()
}

func (j *Job) setAllowCancel(allowed bool) {
	if j.cancelAllowed.Swap(allowed) != allowed {
		j.emit(AllowCancelEvent{Allowed: allowed})
	}
}

func (j *Job) setStatus(s Status) {
	if Status(j.status.Swap(int32(s))) != s {
		j.emit(StatusEvent{Status: s})
	}
}

// checkCancel returns ErrCancelled once cancellation was requested.
func (j *Job) checkCancel() error {
	if j.Cancelled() || j.ctx.Err() != nil {
		return WrapError(CodeCancelled, "Job was cancelled", j.ctx.Err())
	}
	return nil
}

func (j *Job) emit(ev Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.terminated {
		j.log.Debug().Str("event", ev.Kind()).Msg("event after terminal dropped")
		return
	}
	j.sink.Emit(ev)
}

// setProgress emits a Progress event if pct moves forward. Lower values
// within a phase are dropped so percentages never go back.
func (j *Job) setProgress(pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	j.mu.Lock()
	if pct <= j.progress || j.terminated {
		j.mu.Unlock()
		return
	}
	j.progress = pct
	j.sink.Emit(ProgressEvent{Percentage: pct})
	j.mu.Unlock()
}

// resetProgress starts a new phase.
func (j *Job) resetProgress() {
	j.mu.Lock()
	j.progress = -1
	j.mu.Unlock()
}

func (j *Job) emitPackage(info Info, pkg manager.Package) {
	j.emit(PackageEvent{Info: info, PackageID: pkg.ID(), Summary: pkg.Summary})
}

// finish delivers the terminal event: FinishedEvent for a nil err, otherwise
// an ErrorEvent carrying err's code and message.
func (j *Job) finish(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.terminated {
		return
	}
	j.terminated = true
	j.err = err
	j.status.Store(int32(StatusFinished))

	if err != nil {
		j.sink.Emit(ErrorEvent{Code: CodeOf(err), Message: MessageOf(err)})
	} else {
		j.sink.Emit(FinishedEvent{Runtime: time.Since(j.started)})
	}
	j.cancel()
	close(j.done)
}

func (j *Job) recordChanged(ids ...string) {
	j.changed = append(j.changed, ids...)
}
