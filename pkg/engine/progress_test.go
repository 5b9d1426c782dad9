package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"pkengine/pkg/manager"
)

func TestDownloadProgressAggregates(t *testing.T) {
	var reports []int
	d := newDownloadProgress(400, func(pct int) { reports = append(reports, pct) })

	d.Add("a", 100)
	d.Add("b", 300)
	d.Update("a", 50)
	d.Update("b", 100)
	d.Update("a", 20) // stale
	d.Update("zzz", 10)
	d.Done("a")
	d.Update("b", 500) // clamped to its size
	d.Done("b")
	d.Done("b")

	if want := []int{12, 37, 50, 100, 100}; !equalInts(reports, want) {
		t.Errorf("reports = %v, want %v", reports, want)
	}
}

func TestDownloadProgressZeroTotal(t *testing.T) {
	var reports []int
	d := newDownloadProgress(0, func(pct int) { reports = append(reports, pct) })
	d.Add("a", 0)
	d.Update("a", 0)
	d.Done("a")
	if len(reports) != 1 || reports[0] != 100 {
		t.Errorf("reports = %v, want [100]", reports)
	}
}

func progressOf(events []Event) []int {
	var out []int
	for _, ev := range events {
		if pe, ok := ev.(ProgressEvent); ok {
			out = append(out, pe.Percentage)
		}
	}
	return out
}

func TestCommitProgress(t *testing.T) {
	sink := &Collector{}
	job := newJob(context.Background(), RoleUpdatePackages, Params{}, "memory", sink, zerolog.Nop())
	c := &commitProgress{job: job, totalItems: 2}

	up := item(p("vim", "9.1-1", "x86_64", "updates"), manager.ActionUpgrade)
	old := item(installed("vim", "9.0-1", "x86_64", "base"), manager.ActionReplaced)

	c.Begin(2)
	c.ItemStart(up)
	c.ItemProgress(up, 50, 100)
	c.ItemDone(up)
	c.ItemStart(old)
	c.ItemProgress(old, 50, 100)
	c.ItemProgress(old, 10, 100)
	c.ItemDone(old)

	got := progressOf(sink.Events())
	if !equalInts(got, []int{0, 25, 50, 75, 100}) {
		t.Errorf("progress = %v", got)
	}

	pkgs := sink.Packages()
	if len(pkgs) != 2 || pkgs[0].Info != InfoUpdating || pkgs[1].Info != InfoCleanup {
		t.Errorf("package events = %+v", pkgs)
	}
	if len(job.changed) != 2 {
		t.Errorf("changed = %v", job.changed)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
