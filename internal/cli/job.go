package cli

import (
	"context"
	"fmt"

	"pkengine/internal/ui"
	"pkengine/pkg/engine"
)

// runJob submits a Job to the selected backend and waits for it. Status
// and progress are drawn while it runs; the other events are returned in
// the renderer.
func runJob(ctx context.Context, role engine.Role, params engine.Params) (*ui.Renderer, error) {
	return submit(ctx, role, params, cfg.Output.Verbose)
}

// runQuietJob is runJob without progress drawing, for commands that show
// their own spinner.
func runQuietJob(ctx context.Context, role engine.Role, params engine.Params) (*ui.Renderer, error) {
	return submit(ctx, role, params, true)
}

func submit(ctx context.Context, role engine.Role, params engine.Params, quiet bool) (*ui.Renderer, error) {
	r := ui.NewRenderer(ui.Output, quiet)
	return r, submitTo(ctx, role, params, r)
}

// submitTo runs a Job whose events go to r.
func submitTo(ctx context.Context, role engine.Role, params engine.Params, r *ui.Renderer) error {
	if filterFlag != "" && params.Filter == engine.FilterNone {
		f, err := engine.ParseFilter(filterFlag)
		if err != nil {
			return err
		}
		params.Filter = f
	}

	logger.Debug().
		Str("role", role.String()).
		Str("filter", params.Filter.String()).
		Str("flags", params.Flags.String()).
		Msg("submitting job")
	return eng.Run(ctx, engine.Request{
		Role:    role,
		Params:  params,
		Backend: backendName,
		Sink:    r,
	})
}

// printResults prints everything a finished Job reported. empty is shown
// when the Job reported nothing at all.
func printResults(r *ui.Renderer, empty string) {
	var (
		pkgs    []engine.PackageEvent
		details []engine.DetailsEvent
		files   []engine.FilesEvent
		updates []engine.UpdateDetailEvent
		repos   []engine.RepoDetailEvent
		txs     []engine.TransactionEvent
	)
	for _, ev := range r.Events() {
		switch e := ev.(type) {
		case engine.PackageEvent:
			pkgs = append(pkgs, e)
		case engine.DetailsEvent:
			details = append(details, e)
		case engine.FilesEvent:
			files = append(files, e)
		case engine.UpdateDetailEvent:
			updates = append(updates, e)
		case engine.RepoDetailEvent:
			repos = append(repos, e)
		case engine.TransactionEvent:
			txs = append(txs, e)
		}
	}

	printed := false
	if len(pkgs) > 0 {
		ui.PrintPackages(out, pkgs)
		printed = true
	}
	if len(details) > 0 {
		ui.PrintDetails(out, details)
		printed = true
	}
	if len(files) > 0 {
		ui.PrintFiles(out, files)
		printed = true
	}
	if len(updates) > 0 {
		ui.PrintUpdateDetails(out, updates)
		printed = true
	}
	if len(repos) > 0 {
		ui.PrintRepos(out, repos)
		printed = true
	}
	if len(txs) > 0 {
		ui.PrintTransactions(out, txs)
		printed = true
	}
	if !printed && empty != "" {
		fmt.Fprintln(out, ui.Muted.Sprint(empty))
	}
}
