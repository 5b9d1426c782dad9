package engine

import (
	"context"
	"os"
	"strings"

	"pkengine/pkg/manager"
)

// Executor drives a resolved plan through download and commit.
type Executor struct {
	Backend interface {
		manager.Downloader
		manager.Committer
	}
	Job *Job

	// Dir is where downloaded payloads go.
	Dir string

	// Downloaded holds the payload paths fetched by Run.
	Downloaded []string

	// Committed is set once the native commit has been started.
	Committed bool
}

// Run downloads the plan's payloads, then commits unless OnlyDownload is set.
func (x *Executor) Run(ctx context.Context, plan *Plan, flags TransactionFlags) error {
	if plan.Failed() {
		return plan.Err()
	}
	paths, err := x.Download(ctx, plan.Inbound())
	if err != nil {
		return err
	}
	x.Downloaded = paths
	if flags.Has(FlagOnlyDownload) {
		return nil
	}
	return x.Execute(ctx, plan)
}

// Download fetches every package not already available locally. Packages
// already on disk count for nothing in the percentage. Cancellation is
// allowed throughout.
func (x *Executor) Download(ctx context.Context, pkgs []manager.Package) ([]string, error) {
	var (
		fetch []manager.Package
		total uint64
	)
	for _, p := range pkgs {
		if p.Local {
			continue
		}
		fetch = append(fetch, p)
		total += p.DownloadSize
	}
	if len(fetch) == 0 {
		return nil, nil
	}

	if x.Dir != "" {
		if err := os.MkdirAll(x.Dir, 0755); err != nil {
			return nil, WrapError(CodeInternalError, "cannot create download directory", err)
		}
	}

	x.Job.setStatus(StatusDownload)
	x.Job.resetProgress()
	progress := newDownloadProgress(total, x.Job.setProgress)

	paths, err := x.Backend.Download(ctx, fetch, x.Dir, progress)
	if err != nil {
		if cerr := x.Job.checkCancel(); cerr != nil {
			return nil, cerr
		}
		return nil, WrapError(CodePackageDownloadFailed, "failed to download packages", err)
	}
	x.Job.setProgress(100)
	return paths, nil
}

// Execute commits the plan. Cancellation is refused from the moment the
// native commit starts until it returns, and the commit is detached from
// ctx cancellation. Nothing is rolled back on failure.
func (x *Executor) Execute(ctx context.Context, plan *Plan) error {
	if err := x.Job.checkCancel(); err != nil {
		return err
	}

	x.Job.resetProgress()
	progress := &commitProgress{job: x.Job, totalItems: len(plan.Items)}

	x.Job.setAllowCancel(false)
	x.Committed = true
	problems, err := x.Backend.Commit(context.WithoutCancel(ctx), plan.Items, progress)
	x.Job.setAllowCancel(true)

	if len(problems) > 0 {
		return WrapError(CodeTransactionError, "Transaction failed: "+strings.Join(problems, "; "), err)
	}
	if err != nil {
		return WrapError(CodeTransactionError, "Transaction failed: "+err.Error(), err)
	}
	x.Job.setProgress(100)
	return nil
}
