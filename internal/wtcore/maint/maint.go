// Package maint runs periodic maintenance (checkpoints) across a
// connection's open B-tree handles, grounded on the teacher's
// internal/storage/scheduler.go background-task runner, rebuilt here
// on top of github.com/robfig/cron/v3 per SPEC_FULL.md's dependency
// wiring table.
package maint

import (
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/duskcask/wtcore/internal/wtcore/wlog"
)

// Syncable is anything maint can checkpoint; *btree.Handle satisfies
// it via its Sync method. Declared as an interface here so this
// package doesn't need to import btree.
type Syncable interface {
	Sync() error
}

// Scheduler drives periodic checkpoints for a registered set of
// B-tree handles.
type Scheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	targets map[string]Syncable
}

// NewScheduler builds a scheduler. Call Start to begin firing jobs.
func NewScheduler() *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		targets: map[string]Syncable{},
	}
}

// Register adds (or replaces) a checkpoint target under name, used in
// log messages to identify which file failed a checkpoint.
func (s *Scheduler) Register(name string, t Syncable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[name] = t
}

// Unregister drops name from the checkpoint set (called on handle
// close).
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.targets, name)
}

// AddCheckpointJob schedules a recurring checkpoint pass over every
// registered target at the given cron spec (e.g. "@every 30s",
// matching WiredTiger's default checkpoint interval order of
// magnitude).
func (s *Scheduler) AddCheckpointJob(spec string) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, s.checkpointAll)
}

func (s *Scheduler) checkpointAll() {
	s.mu.Lock()
	targets := make(map[string]Syncable, len(s.targets))
	for k, v := range s.targets {
		targets[k] = v
	}
	s.mu.Unlock()

	for name, t := range targets {
		if err := t.Sync(); err != nil {
			wlog.Printf(wlog.Write, "maint: checkpoint of %s failed: %v", name, err)
		}
	}
}

// Start begins firing scheduled jobs in their own goroutines.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
