// Package tracker implements the workflow tracker: polling dispatched task
// trees for status, revoking them, and reconciling the database's view of
// "running" tasks against what the broker's workers actually report,
// grounded in workflow_tracker.py and annotation_watchdog.py's
// _check_ongoing_tasks.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smilemakc/aidecore/internal/domain/aide"
	"github.com/smilemakc/aidecore/internal/domain/repository"
	"github.com/smilemakc/aidecore/internal/infrastructure/broker"
)

// OrphanMessage marks a history row failed by reconciliation rather than
// by a worker-reported error. Reconcile keys its resurrection check off
// this exact string, so it must stay stable across releases.
const OrphanMessage = "Auto-launched task did not finish"

// Tracker polls and revokes dispatched workflow runs and reconciles a
// project's recorded "active" tasks against the broker's live worker
// state.
type Tracker struct {
	Broker  broker.Broker
	History repository.WorkflowHistoryRepository
	Queue   string
	Now     func() time.Time

	mu    sync.Mutex
	cache map[string]map[string]*aide.WorkflowHistoryEntry // shortName -> id -> entry
}

// New builds a Tracker.
func New(b broker.Broker, history repository.WorkflowHistoryRepository, queue string) *Tracker {
	return &Tracker{
		Broker:  b,
		History: history,
		Queue:   queue,
		Now:     time.Now,
		cache:   make(map[string]map[string]*aide.WorkflowHistoryEntry),
	}
}

func (t *Tracker) cacheFor(shortName string) map[string]*aide.WorkflowHistoryEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.cache[shortName]
	if !ok {
		m = make(map[string]*aide.WorkflowHistoryEntry)
		t.cache[shortName] = m
	}
	return m
}

func (t *Tracker) rememberEntry(shortName string, entry *aide.WorkflowHistoryEntry) {
	c := t.cacheFor(shortName)
	t.mu.Lock()
	c[entry.ID] = entry
	t.mu.Unlock()
}

func (t *Tracker) forgetEntry(shortName, id string) {
	t.mu.Lock()
	delete(t.cache[shortName], id)
	t.mu.Unlock()
}

// Remember seeds the per-project cache with a freshly dispatched run so
// the first status poll is served without a store read.
func (t *Tracker) Remember(shortName string, entry *aide.WorkflowHistoryEntry) {
	t.rememberEntry(shortName, entry)
}

// Poll refreshes the status of every task in a run's tree, committing a
// terminal rollup (SUCCESS only if every leaf succeeded, FAILURE if any
// leaf failed, REVOKED if any leaf was revoked) and forgetting the
// broker-side results once persisted, mirroring poll_task_status's
// cache-or-DB load, poll, and forget-on-terminal sequence.
func (t *Tracker) Poll(ctx context.Context, shortName, id string) (*aide.WorkflowHistoryEntry, error) {
	entry, err := t.load(ctx, shortName, id)
	if err != nil {
		return nil, err
	}

	// A run already stamped terminal (success, failure, or revoked) is
	// never re-examined: no further broker calls, no further store
	// write, and forget has already run. This is what makes polling a
	// completed workflow idempotent (spec.md §8 property 7) rather than
	// re-deriving and possibly clobbering a revoked/failed status once
	// its tasks have since been forgotten from the broker.
	if broker.TaskState(entry.Status).Terminal() {
		return entry, nil
	}

	terminalSeen := true
	anyFailure := false
	anyRevoked := false
	var messages []string

	for _, taskID := range flattenAll(entry.Tasks) {
		status, err := t.Broker.Status(ctx, taskID)
		if err != nil {
			if err == broker.ErrNotFound {
				continue
			}
			return nil, fmt.Errorf("%w: %v", aide.ErrBrokerUnavailable, err)
		}
		if status.Error != "" {
			messages = append(messages, status.Error)
		}
		if !status.State.Terminal() {
			terminalSeen = false
			continue
		}
		switch status.State {
		case broker.StateFailure:
			anyFailure = true
		case broker.StateRevoked:
			anyRevoked = true
		}
	}

	switch {
	case anyRevoked:
		entry.Status = string(broker.StateRevoked)
	case anyFailure:
		entry.Status = string(broker.StateFailure)
	case terminalSeen:
		entry.Status = string(broker.StateSuccess)
	default:
		entry.Status = string(broker.StateStarted)
	}
	entry.Messages = messages

	if broker.TaskState(entry.Status).Terminal() {
		now := t.Now()
		entry.TimeFinished = &now
	}

	if err := t.History.Update(ctx, shortName, entry); err != nil {
		return nil, err
	}

	if broker.TaskState(entry.Status).Terminal() {
		for _, taskID := range flattenAll(entry.Tasks) {
			_ = t.Broker.Forget(ctx, taskID)
		}
		t.forgetEntry(shortName, id)
	} else {
		t.rememberEntry(shortName, entry)
	}

	return entry, nil
}

func (t *Tracker) load(ctx context.Context, shortName, id string) (*aide.WorkflowHistoryEntry, error) {
	c := t.cacheFor(shortName)
	t.mu.Lock()
	cached, ok := c[id]
	t.mu.Unlock()
	if ok {
		return cached, nil
	}

	entry, err := t.History.Get(ctx, shortName, id)
	if err != nil {
		return nil, err
	}
	t.rememberEntry(shortName, entry)
	return entry, nil
}

// Revoke cancels every task in a run's tree, parent first, then child, the
// same top-down order _revoke_task recurses in. abortedBy is stamped on
// the history row (empty for a system-initiated revoke, the caller's
// username for revoke_task); revocation asks the broker to terminate each
// task but marks the row aborted regardless of whether that succeeds,
// since cancellation is cooperative (spec.md §5).
func (t *Tracker) Revoke(ctx context.Context, shortName, id, abortedBy string) error {
	entry, err := t.load(ctx, shortName, id)
	if err != nil {
		return err
	}
	for _, taskID := range flattenAll(entry.Tasks) {
		_ = t.Broker.Revoke(ctx, taskID)
	}
	entry.Status = string(broker.StateRevoked)
	entry.AbortedBy = abortedBy
	now := t.Now()
	entry.TimeFinished = &now
	if err := t.History.Update(ctx, shortName, entry); err != nil {
		return err
	}
	t.forgetEntry(shortName, id)
	return nil
}

// ActiveTaskIDs returns every task ID recorded across a project's active
// (non-terminal) runs, the database-side half of reconciliation.
func (t *Tracker) ActiveTaskIDs(ctx context.Context, shortName string) ([]string, error) {
	entries, err := t.History.ListActive(ctx, shortName)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		ids = append(ids, flattenAll(e.Tasks)...)
	}
	return ids, nil
}

// ReconcileResult reports the outcome of comparing the database's active
// task IDs against the broker's live worker state.
type ReconcileResult struct {
	// Orphaned holds task IDs the database believes are running but that
	// no worker reports as active, and that were not resurrected.
	Orphaned []string
	// Resurrected holds task IDs the broker reports active again after
	// momentarily vanishing from its own bookkeeping (a worker restart
	// racing the inspection call) — these are NOT orphaned, precedence
	// the original implementation encodes as
	// tasks_orphaned.difference(tasks_resurrected).
	Resurrected []string
}

// Reconcile compares a project's recorded active task IDs against what
// the broker's workers currently report active, classifying any mismatch
// as orphaned unless the same task ID reappears in a second broker read —
// the resurrected case — which always wins over orphan classification.
// This is the literal algorithm _check_ongoing_tasks implements.
//
// Beyond classification, Reconcile applies both verdicts to the store: an
// orphaned run is stamped failed with OrphanMessage, and a run previously
// stamped that way whose tasks the broker reports alive again has its
// finisher fields nulled so it re-enters the active set.
func (t *Tracker) Reconcile(ctx context.Context, shortName string) (*ReconcileResult, error) {
	active, err := t.History.ListActive(ctx, shortName)
	if err != nil {
		return nil, err
	}

	firstRead, err := t.Broker.ActiveTaskIDs(ctx, t.Queue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aide.ErrBrokerUnavailable, err)
	}
	live := toSet(firstRead)

	orphanMarked, err := t.History.ListOrphaned(ctx, shortName)
	if err != nil {
		return nil, err
	}

	var candidates []*aide.WorkflowHistoryEntry
	for _, entry := range active {
		if !anyIn(flattenAll(entry.Tasks), live) {
			candidates = append(candidates, entry)
		}
	}

	result := &ReconcileResult{}
	if len(candidates) == 0 && len(orphanMarked) == 0 {
		return result, nil
	}

	secondRead, err := t.Broker.ActiveTaskIDs(ctx, t.Queue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aide.ErrBrokerUnavailable, err)
	}
	secondSet := toSet(secondRead)
	union := make(map[string]bool, len(live)+len(secondSet))
	for id := range live {
		union[id] = true
	}
	for id := range secondSet {
		union[id] = true
	}

	// Previously orphan-marked runs whose tasks show up alive in either
	// read are resurrected: the broker is authoritative for "currently
	// running", so their finisher fields are nulled and they re-enter the
	// active set.
	for _, entry := range orphanMarked {
		ids := flattenAll(entry.Tasks)
		if !anyIn(ids, union) {
			continue
		}
		entry.Status = string(broker.StateStarted)
		entry.TimeFinished = nil
		entry.Messages = nil
		if err := t.History.Update(ctx, shortName, entry); err != nil {
			return nil, err
		}
		result.Resurrected = append(result.Resurrected, ids...)
	}

	for _, entry := range candidates {
		ids := flattenAll(entry.Tasks)
		if anyIn(ids, secondSet) {
			result.Resurrected = append(result.Resurrected, ids...)
			continue
		}
		entry.Status = string(broker.StateFailure)
		now := t.Now()
		entry.TimeFinished = &now
		entry.Messages = []string{OrphanMessage}
		if err := t.History.Update(ctx, shortName, entry); err != nil {
			return nil, err
		}
		t.forgetEntry(shortName, entry.ID)
		result.Orphaned = append(result.Orphaned, ids...)
	}
	return result, nil
}

func anyIn(ids []string, set map[string]bool) bool {
	for _, id := range ids {
		if set[id] {
			return true
		}
	}
	return false
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func flattenAll(tasks []aide.TaskNode) []string {
	var out []string
	for _, n := range tasks {
		out = append(out, n.Flatten()...)
	}
	return out
}
