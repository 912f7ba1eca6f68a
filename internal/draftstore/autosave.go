// Package draftstore keeps an in-progress draft durable across
// interruptions. Writes are debounced so continuous editing does not hammer
// the disk; the snapshot is a crash safety net, not a sync mechanism.
package draftstore

import (
	"context"
	"sync"
	"time"

	"fieldline/internal/draft"
)

// Saver is the persistence medium for draft snapshots.
type Saver interface {
	SaveDraft(ctx context.Context, d *draft.Draft) error
}

// DefaultInterval is the debounce window between snapshot writes.
const DefaultInterval = 30 * time.Second

// Autosaver snapshots one draft on a debounce timer. Its lifecycle is tied
// to the editing session: construct it with the draft, Start it, and Stop
// (which flushes) when the session ends.
type Autosaver struct {
	saver    Saver
	d        *draft.Draft
	interval time.Duration

	mu      sync.Mutex
	dirty   bool
	lastErr error

	started bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func New(saver Saver, d *draft.Draft, interval time.Duration) *Autosaver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	a := &Autosaver{
		saver:    saver,
		d:        d,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	d.OnChange(a.MarkDirty)
	return a
}

// MarkDirty notes that the draft changed since the last snapshot.
func (a *Autosaver) MarkDirty() {
	a.mu.Lock()
	a.dirty = true
	a.mu.Unlock()
}

// Start runs the debounce loop until Stop.
func (a *Autosaver) Start(ctx context.Context) {
	a.mu.Lock()
	a.started = true
	a.mu.Unlock()
	go func() {
		defer close(a.done)
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.flushIfDirty(ctx)
			case <-a.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (a *Autosaver) flushIfDirty(ctx context.Context) {
	a.mu.Lock()
	dirty := a.dirty
	a.dirty = false
	a.mu.Unlock()
	if !dirty {
		return
	}
	if err := a.saver.SaveDraft(ctx, a.d); err != nil {
		a.mu.Lock()
		a.dirty = true
		a.lastErr = err
		a.mu.Unlock()
	}
}

// Flush writes a snapshot immediately regardless of the timer.
func (a *Autosaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	a.dirty = false
	a.mu.Unlock()
	err := a.saver.SaveDraft(ctx, a.d)
	if err != nil {
		a.mu.Lock()
		a.dirty = true
		a.lastErr = err
		a.mu.Unlock()
	}
	return err
}

// Stop ends the loop and flushes any pending changes.
func (a *Autosaver) Stop(ctx context.Context) error {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if started {
		a.once.Do(func() { close(a.stop) })
		<-a.done
	}
	return a.Flush(ctx)
}

// LastErr reports the most recent background save failure, if any.
func (a *Autosaver) LastErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}
