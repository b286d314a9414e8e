// Package dispatch implements the task dispatcher: given a CompiledWorkflow
// it assigns broker task IDs to every graph node, submits them in
// dependency order, and persists the resulting task tree, grounded in
// workflow_tracker.py's launch_workflow.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smilemakc/aidecore/internal/domain/aide"
	"github.com/smilemakc/aidecore/internal/domain/repository"
	"github.com/smilemakc/aidecore/internal/infrastructure/broker"
)

// IDGenerator produces broker task IDs. Exists as a seam so tests can
// supply deterministic IDs instead of random UUIDs.
type IDGenerator func() string

// NewUUIDGenerator returns the production IDGenerator.
func NewUUIDGenerator() IDGenerator {
	return func() string { return uuid.NewString() }
}

// Dispatcher submits a compiled workflow's tasks to the broker in
// dependency order and records the run in workflow history.
type Dispatcher struct {
	Broker  broker.Broker
	History repository.WorkflowHistoryRepository
	Queue   string
	NewID   IDGenerator
	Now     func() time.Time
}

// New builds a Dispatcher.
func New(b broker.Broker, history repository.WorkflowHistoryRepository, queue string) *Dispatcher {
	return &Dispatcher{
		Broker:  b,
		History: history,
		Queue:   queue,
		NewID:   NewUUIDGenerator(),
		Now:     time.Now,
	}
}

// Launch generates the run's workflow UUID first, submits every task in
// cw.Graph in dependency order — the graph root is handed to the broker
// under that same UUID, so the history row and the live root task stay
// joinable by one id — then persists the run as a pending
// WorkflowHistoryEntry carrying the original submitted document.
// launchedBy is empty for an auto-launched (author-less) run.
func (d *Dispatcher) Launch(ctx context.Context, shortName string, cw *aide.CompiledWorkflow, doc *aide.Document, launchedBy string) (*aide.WorkflowHistoryEntry, error) {
	kwargsByName := make(map[string]map[string]any, len(cw.Tasks))
	for _, t := range cw.Tasks {
		kwargsByName[t.Name] = t.Kwargs
	}

	workflowID := d.NewID()
	rootID := workflowID
	root, err := d.dispatchGraph(ctx, cw.Graph, kwargsByName, &rootID)
	if err != nil {
		return nil, err
	}

	now := d.Now()
	entry := &aide.WorkflowHistoryEntry{
		ID:          workflowID,
		LaunchedBy:  launchedBy,
		TimeCreated: now,
		TimeUpdated: now,
		Workflow:    doc,
		Tasks:       root,
		Status:      string(broker.StatePending),
	}

	if err := d.History.Insert(ctx, shortName, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// dispatchGraph recursively submits a Graph, returning the TaskNode tree
// rooted at it. rootID carries the workflow UUID until the graph root —
// the first task handed to the broker — consumes it; every later node
// gets a fresh id. A chain's later single-task steps are submitted with a
// countdown delay so they do not race their predecessor (the original
// implementation relies on Celery's own chain linking; this broker has no
// native chain primitive, so each step's delay approximates it for tasks
// that don't actually depend on a prior result being materialized
// in-queue). A composite step (group, chord or nested chain) gets no
// chain delay; it carries only the delays its own kind schedules.
func (d *Dispatcher) dispatchGraph(ctx context.Context, g *aide.Graph, kwargsByName map[string]map[string]any, rootID *string) ([]aide.TaskNode, error) {
	switch g.Kind {
	case aide.NodeSingle:
		node, err := d.dispatchTask(ctx, g.Task, kwargsByName, 0, rootID)
		if err != nil {
			return nil, err
		}
		return []aide.TaskNode{node}, nil

	case aide.NodeGroup:
		var out []aide.TaskNode
		for _, m := range g.Members {
			nodes, err := d.dispatchGraph(ctx, m, kwargsByName, rootID)
			if err != nil {
				return nil, err
			}
			out = append(out, nodes...)
		}
		return out, nil

	case aide.NodeChord:
		body, err := d.dispatchGraph(ctx, g.Members[0], kwargsByName, rootID)
		if err != nil {
			return nil, err
		}
		callback, err := d.dispatchTask(ctx, g.Callback.Task, kwargsByName, time.Second, rootID)
		if err != nil {
			return nil, err
		}
		callback.Children = body
		return []aide.TaskNode{callback}, nil

	case aide.NodeChain:
		var roots []aide.TaskNode
		var prev []aide.TaskNode
		for i, step := range g.Members {
			delay := time.Duration(i) * time.Second
			nodes, err := d.dispatchChainStep(ctx, step, kwargsByName, delay, rootID)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				roots = nodes
			} else {
				for idx := range prev {
					prev[idx].Children = append(prev[idx].Children, nodes...)
				}
			}
			prev = nodes
		}
		return roots, nil

	default:
		return nil, fmt.Errorf("%w: unknown graph node kind", aide.ErrInvalidWorkflow)
	}
}

// dispatchChainStep dispatches one chain link. A single-task link is
// submitted with extraDelay as its countdown; any other link is handed to
// dispatchGraph and extraDelay is not applied to it.
func (d *Dispatcher) dispatchChainStep(ctx context.Context, g *aide.Graph, kwargsByName map[string]map[string]any, extraDelay time.Duration, rootID *string) ([]aide.TaskNode, error) {
	switch g.Kind {
	case aide.NodeSingle:
		node, err := d.dispatchTask(ctx, g.Task, kwargsByName, extraDelay, rootID)
		if err != nil {
			return nil, err
		}
		return []aide.TaskNode{node}, nil
	default:
		return d.dispatchGraph(ctx, g, kwargsByName, rootID)
	}
}

func (d *Dispatcher) dispatchTask(ctx context.Context, name string, kwargsByName map[string]map[string]any, delay time.Duration, rootID *string) (aide.TaskNode, error) {
	taskID := ""
	if rootID != nil && *rootID != "" {
		taskID = *rootID
		*rootID = ""
	}
	if taskID == "" {
		taskID = d.NewID()
	}
	args := kwargsByName[name]
	if args == nil {
		// Derived nodes (train#1.images, train#1.worker0, ...) share
		// their parent task's resolved kwargs.
		if dot := strings.IndexByte(name, '.'); dot > 0 {
			args = kwargsByName[name[:dot]]
		}
	}

	err := d.Broker.Submit(ctx, broker.Submission{
		TaskID:    taskID,
		Queue:     d.Queue,
		Name:      name,
		Args:      args,
		Countdown: delay,
	})
	if err != nil {
		return aide.TaskNode{}, fmt.Errorf("%w: dispatch %s: %v", aide.ErrBrokerUnavailable, name, err)
	}

	return aide.TaskNode{Name: name, TaskID: taskID}, nil
}
