package engine

import (
	"sync"

	"pkengine/pkg/manager"
)

// downloadProgress aggregates parallel per-item download callbacks into one
// percentage over the bytes that actually need fetching.
type downloadProgress struct {
	mu       sync.Mutex
	total    uint64
	finished uint64
	sizes    map[string]uint64
	inflight map[string]uint64
	report   func(pct int)
}

func newDownloadProgress(total uint64, report func(pct int)) *downloadProgress {
	return &downloadProgress{
		total:    total,
		sizes:    make(map[string]uint64),
		inflight: make(map[string]uint64),
		report:   report,
	}
}

func (d *downloadProgress) Add(key string, size uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sizes[key] = size
	d.inflight[key] = 0
}

func (d *downloadProgress) Update(key string, downloaded uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inflight[key]; !ok {
		return
	}
	if size := d.sizes[key]; size > 0 && downloaded > size {
		downloaded = size
	}
	if downloaded < d.inflight[key] {
		return
	}
	d.inflight[key] = downloaded
	d.emit()
}

func (d *downloadProgress) Done(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inflight[key]; !ok {
		return
	}
	delete(d.inflight, key)
	d.finished += d.sizes[key]
	d.emit()
}

// emit must be called with mu held.
func (d *downloadProgress) emit() {
	if d.total == 0 {
		if len(d.inflight) == 0 {
			d.report(100)
		}
		return
	}
	sum := d.finished
	for _, n := range d.inflight {
		sum += n
	}
	pct := int(sum * 100 / d.total)
	if pct > 100 {
		pct = 100
	}
	d.report(pct)
}

// commitProgress maps per-item commit callbacks onto the Job: a Package
// event as each item starts and an overall percentage across items.
type commitProgress struct {
	job        *Job
	totalItems int
	index      int
}

func (c *commitProgress) Begin(total int) {
	if total > 0 {
		c.totalItems = total
	}
	c.job.setProgress(0)
}

func (c *commitProgress) ItemStart(item manager.Item) {
	switch item.Action {
	case manager.ActionRemove:
		c.job.setStatus(StatusRemove)
	case manager.ActionReplaced:
		c.job.setStatus(StatusCleanup)
	case manager.ActionUpgrade, manager.ActionDowngrade:
		c.job.setStatus(StatusUpdate)
	default:
		c.job.setStatus(StatusInstall)
	}
	c.job.emitPackage(executeInfo(item.Action), item.Package)
	c.job.recordChanged(item.Package.ID())
}

func (c *commitProgress) ItemProgress(_ manager.Item, amount, total uint64) {
	if c.totalItems == 0 || total == 0 {
		return
	}
	if amount > total {
		amount = total
	}
	done := uint64(c.index)*total + amount
	c.job.setProgress(int(done * 100 / (total * uint64(c.totalItems))))
}

func (c *commitProgress) ItemDone(manager.Item) {
	if c.index < c.totalItems {
		c.index++
	}
	if c.totalItems > 0 {
		c.job.setProgress(c.index * 100 / c.totalItems)
	}
}
