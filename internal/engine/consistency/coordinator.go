// Package consistency keeps Task.ProjectID and Project.Tasks in agreement
// without multi-document transactions.
//
// The task document is authoritative. Every operation here is a set-semantics
// side effect (add-if-absent, remove-if-present, compare-and-clear) so it can be
// repeated any number of times, in any interleaving, and converge to the same state.
package consistency

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"taskline/internal/repo"
)

var ErrRepairNeeded = errors.New("consistency repair needed")

// RepairNeededError reports a back-reference update that failed after the
// authoritative write succeeded. The task is queued for reconciliation.
type RepairNeededError struct {
	Op        string
	TaskID    string
	ProjectID string
	Err       error
}

func (e *RepairNeededError) Error() string {
	return fmt.Sprintf("%s task %s project %s: %v", e.Op, e.TaskID, e.ProjectID, e.Err)
}

func (e *RepairNeededError) Unwrap() []error {
	return []error{ErrRepairNeeded, e.Err}
}

type Store interface {
	repo.TaskStore
	repo.ProjectStore
}

// Report summarizes a reconciliation pass.
type Report struct {
	TasksChecked int `json:"tasksChecked"`
	Added        int `json:"added"`
	Removed      int `json:"removed"`
	Cleared      int `json:"cleared"`
	Failed       int `json:"failed"`
}

func (r *Report) merge(o Report) {
	r.TasksChecked += o.TasksChecked
	r.Added += o.Added
	r.Removed += o.Removed
	r.Cleared += o.Cleared
	r.Failed += o.Failed
}

func (r Report) Changed() bool {
	return r.Added+r.Removed+r.Cleared > 0
}

// PendingRepair is a task whose back-references may be stale.
type PendingRepair struct {
	TaskID   string    `json:"taskId"`
	Since    time.Time `json:"since"`
	Attempts int       `json:"attempts"`
	LastErr  string    `json:"lastError,omitempty"`
}

type Coordinator struct {
	Store Store
	Log   logrus.FieldLogger
	Now   func() time.Time

	mu      sync.Mutex
	pending map[string]*PendingRepair
	// deleted projects whose tasks could not be listed for detaching
	detach map[string]time.Time
}

func New(store Store, log logrus.FieldLogger) *Coordinator {
	return &Coordinator{Store: store, Log: log, Now: time.Now, pending: map[string]*PendingRepair{}}
}

func (c *Coordinator) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now().UTC()
}

func (c *Coordinator) log() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

// Relink moves the back-reference of taskID from oldProject to newProject.
// It must run after the task document itself carries newProject.
func (c *Coordinator) Relink(ctx context.Context, taskID, oldProject, newProject string) error {
	var errs []error
	if oldProject != "" && oldProject != newProject {
		if err := c.Store.RemoveProjectTask(ctx, oldProject, taskID); err != nil {
			errs = append(errs, fmt.Errorf("remove from %s: %w", oldProject, err))
		}
	}
	if newProject != "" {
		err := c.Store.AddProjectTask(ctx, newProject, taskID)
		if errors.Is(err, repo.ErrNotFound) {
			// project vanished between validation and linking
			_, err = c.Store.ClearTaskProject(ctx, taskID, newProject, c.now())
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("add to %s: %w", newProject, err))
		}
	}
	if len(errs) == 0 {
		if err := c.verify(ctx, taskID, newProject); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return c.fail("relink", taskID, newProject, errors.Join(errs...))
	}
	return nil
}

// verify re-reads the task and repairs if a concurrent writer changed its project.
func (c *Coordinator) verify(ctx context.Context, taskID, expected string) error {
	t, err := c.Store.GetTask(ctx, taskID)
	if err == nil && t.ProjectID == expected {
		return nil
	}
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("verify: %w", err)
	}
	_, err = c.reconcile(ctx, taskID)
	return err
}

// Unlink removes a deleted task from its project and from any stale listing.
func (c *Coordinator) Unlink(ctx context.Context, taskID, projectID string) error {
	if projectID != "" {
		if err := c.Store.RemoveProjectTask(ctx, projectID, taskID); err != nil {
			return c.fail("unlink", taskID, projectID, err)
		}
	}
	if _, err := c.reconcile(ctx, taskID); err != nil {
		return c.fail("unlink", taskID, projectID, err)
	}
	return nil
}

// DetachProject clears the reference on every task still pointing at a deleted project.
func (c *Coordinator) DetachProject(ctx context.Context, projectID string) (int, error) {
	ids, err := c.Store.TaskIDsByProject(ctx, projectID)
	if err != nil {
		c.mu.Lock()
		if c.detach == nil {
			c.detach = map[string]time.Time{}
		}
		if _, ok := c.detach[projectID]; !ok {
			c.detach[projectID] = c.now()
		}
		c.mu.Unlock()
		c.log().WithField("project_id", projectID).WithError(err).Warn("cannot list tasks of deleted project; detach queued")
		return 0, &RepairNeededError{Op: "detach", ProjectID: projectID, Err: err}
	}
	c.mu.Lock()
	delete(c.detach, projectID)
	c.mu.Unlock()
	cleared := 0
	var errs []error
	for _, id := range ids {
		ok, err := c.Store.ClearTaskProject(ctx, id, projectID, c.now())
		if err != nil {
			errs = append(errs, c.fail("detach", id, projectID, err))
			continue
		}
		if ok {
			cleared++
		}
	}
	return cleared, errors.Join(errs...)
}

// ReconcileTask restores agreement for one task and drops it from the pending set on success.
func (c *Coordinator) ReconcileTask(ctx context.Context, taskID string) (Report, error) {
	rep, err := c.reconcile(ctx, taskID)
	if err != nil {
		c.markPending(taskID, err)
		return rep, err
	}
	c.mu.Lock()
	delete(c.pending, taskID)
	c.mu.Unlock()
	return rep, nil
}

func (c *Coordinator) reconcile(ctx context.Context, taskID string) (Report, error) {
	rep := Report{TasksChecked: 1}
	listing, err := c.Store.ProjectsListingTask(ctx, taskID)
	if err != nil {
		return rep, err
	}
	want := ""
	t, err := c.Store.GetTask(ctx, taskID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return rep, err
	default:
		want = t.ProjectID
	}
	if want != "" {
		listed := contains(listing, want)
		err := c.Store.AddProjectTask(ctx, want, taskID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			ok, err := c.Store.ClearTaskProject(ctx, taskID, want, c.now())
			if err != nil {
				return rep, err
			}
			if ok {
				rep.Cleared++
			}
			want = ""
		case err != nil:
			return rep, err
		case !listed:
			rep.Added++
		}
	}
	for _, p := range listing {
		if p == want {
			continue
		}
		if err := c.Store.RemoveProjectTask(ctx, p, taskID); err != nil {
			return rep, err
		}
		rep.Removed++
	}
	return rep, nil
}

// ReconcileAll sweeps every task and every project listing.
func (c *Coordinator) ReconcileAll(ctx context.Context) (Report, error) {
	var total Report
	seen := map[string]bool{}
	var order []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}
	refs, err := c.Store.TaskRefs(ctx)
	if err != nil {
		return total, err
	}
	for _, ref := range refs {
		add(ref.TaskID)
	}
	projects, err := c.Store.FindProjects(ctx, repo.ProjectFilter{})
	if err != nil {
		return total, err
	}
	for _, p := range projects {
		for _, id := range p.Tasks {
			add(id)
		}
	}
	for _, id := range c.pendingIDs() {
		add(id)
	}
	var errs []error
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		rep, err := c.ReconcileTask(ctx, id)
		total.merge(rep)
		if err != nil {
			total.Failed++
			errs = append(errs, fmt.Errorf("task %s: %w", id, err))
		}
	}
	return total, errors.Join(errs...)
}

// DrainPending retries every queued project detach and every queued task once.
func (c *Coordinator) DrainPending(ctx context.Context) (Report, error) {
	var total Report
	var errs []error
	for _, projectID := range c.PendingDetaches() {
		n, err := c.DetachProject(ctx, projectID)
		total.Cleared += n
		if err != nil {
			total.Failed++
			errs = append(errs, err)
		}
	}
	for _, id := range c.pendingIDs() {
		rep, err := c.ReconcileTask(ctx, id)
		total.merge(rep)
		if err != nil {
			total.Failed++
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// Run drains the pending set every repairEvery and sweeps everything every sweepEvery
// until ctx is done. A non-positive interval disables that loop.
func (c *Coordinator) Run(ctx context.Context, repairEvery, sweepEvery time.Duration) {
	var repairC, sweepC <-chan time.Time
	if repairEvery > 0 {
		t := time.NewTicker(repairEvery)
		defer t.Stop()
		repairC = t.C
	}
	if sweepEvery > 0 {
		t := time.NewTicker(sweepEvery)
		defer t.Stop()
		sweepC = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-repairC:
			if len(c.pendingIDs()) == 0 {
				continue
			}
			rep, err := c.DrainPending(ctx)
			c.logPass("repair", rep, err)
		case <-sweepC:
			rep, err := c.ReconcileAll(ctx)
			c.logPass("sweep", rep, err)
		}
	}
}

func (c *Coordinator) logPass(kind string, rep Report, err error) {
	entry := c.log().WithFields(logrus.Fields{
		"pass":    kind,
		"checked": rep.TasksChecked,
		"added":   rep.Added,
		"removed": rep.Removed,
		"cleared": rep.Cleared,
		"pending": len(c.pendingIDs()),
	})
	switch {
	case err != nil:
		entry.WithError(err).Warn("reconciliation incomplete")
	case rep.Changed():
		entry.Info("reconciliation repaired back-references")
	default:
		entry.Debug("reconciliation clean")
	}
}

// Pending returns outstanding repairs ordered by age.
func (c *Coordinator) Pending() []PendingRepair {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PendingRepair, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Since.Equal(out[j].Since) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].Since.Before(out[j].Since)
	})
	return out
}

// PendingDetaches returns deleted projects whose tasks still await detaching.
func (c *Coordinator) PendingDetaches() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.detach))
	for id := range c.detach {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Coordinator) pendingIDs() []string {
	p := c.Pending()
	ids := make([]string, len(p))
	for i := range p {
		ids[i] = p[i].TaskID
	}
	return ids
}

func (c *Coordinator) markPending(taskID string, err error) {
	if taskID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		c.pending = map[string]*PendingRepair{}
	}
	p, ok := c.pending[taskID]
	if !ok {
		p = &PendingRepair{TaskID: taskID, Since: c.now()}
		c.pending[taskID] = p
	}
	p.Attempts++
	if err != nil {
		p.LastErr = err.Error()
	}
}

func (c *Coordinator) fail(op, taskID, projectID string, err error) error {
	c.markPending(taskID, err)
	c.log().WithFields(logrus.Fields{
		"op":         op,
		"task_id":    taskID,
		"project_id": projectID,
	}).WithError(err).Warn("back-reference update failed; queued for reconciliation")
	return &RepairNeededError{Op: op, TaskID: taskID, ProjectID: projectID, Err: err}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
