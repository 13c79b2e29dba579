package testutil

import (
	"context"
	"recorder/internal/apperrors"
	"recorder/internal/job"
	"sync"
	"sync/atomic"
	"time"
)

// Compute is an in-memory job.Compute for tests. Phases are scripted per
// job name; each Observe pops the next scripted phase and the last one
// sticks.
type Compute struct {
	mu       sync.Mutex
	jobs     map[string]*fakeJob
	failNext []error // errors returned by the next calls, any method
	lostAcks []error // errors returned by the next submits after the job was created

	Submits atomic.Int64
	Deletes atomic.Int64
	Polls   atomic.Int64
}

type fakeJob struct {
	spec     *job.Spec
	phases   []job.Phase
	exitCode *int
	message  string
	finished time.Time
}

// NewCompute creates an empty fake backend.
func NewCompute() *Compute {
	return &Compute{jobs: make(map[string]*fakeJob)}
}

// Name implements job.Compute.
func (c *Compute) Name() string { return "fake" }

// Script sets the phases a job reports, in order. The job is created if
// it does not exist so tests can model jobs submitted by another process.
func (c *Compute) Script(name string, phases ...job.Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[name]
	if !ok {
		j = &fakeJob{spec: &job.Spec{Name: name}}
		c.jobs[name] = j
	}
	j.phases = append([]job.Phase(nil), phases...)
}

// Exit sets the exit code and output reported once the job fails.
func (c *Compute) Exit(name string, code int, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if j, ok := c.jobs[name]; ok {
		j.exitCode = &code
		j.message = message
	}
}

// Finish sets the time a job reports as finished once it reaches a
// terminal phase. Without it the time of observation is reported.
func (c *Compute) Finish(name string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if j, ok := c.jobs[name]; ok {
		j.finished = at
	}
}

// FailNext makes the next calls return errs, in order.
func (c *Compute) FailNext(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = append(c.failNext, errs...)
}

// LoseAcks makes the next submits create the job and still return errs,
// like a backend call that timed out after the server applied it.
func (c *Compute) LoseAcks(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lostAcks = append(c.lostAcks, errs...)
}

// Spec returns the submitted spec for a job.
func (c *Compute) Spec(name string) (*job.Spec, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[name]
	if !ok {
		return nil, false
	}
	return j.spec, true
}

// Exists reports whether the backend holds a job with this name.
func (c *Compute) Exists(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.jobs[name]
	return ok
}

func (c *Compute) popErr() error {
	if len(c.failNext) == 0 {
		return nil
	}
	err := c.failNext[0]
	c.failNext = c.failNext[1:]
	return err
}

// Submit implements job.Compute.
func (c *Compute) Submit(ctx context.Context, spec *job.Spec) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.popErr(); err != nil {
		return "", err
	}
	if _, ok := c.jobs[spec.Name]; ok {
		return "", apperrors.Conflict("job", spec.Name, "job already exists")
	}
	c.jobs[spec.Name] = &fakeJob{spec: spec, phases: []job.Phase{job.PhaseRunning}}
	c.Submits.Add(1)
	if len(c.lostAcks) > 0 {
		err := c.lostAcks[0]
		c.lostAcks = c.lostAcks[1:]
		return "", err
	}
	return "fake-" + spec.Name, nil
}

// Observe implements job.Compute.
func (c *Compute) Observe(ctx context.Context, name string) (*job.Observation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Polls.Add(1)
	if err := c.popErr(); err != nil {
		return nil, err
	}
	obs := &job.Observation{Name: name, ObservedAt: time.Now()}
	j, ok := c.jobs[name]
	if !ok {
		obs.Phase = job.PhaseNotFound
		return obs, nil
	}
	obs.Phase = j.phases[0]
	if len(j.phases) > 1 {
		j.phases = j.phases[1:]
	}
	if obs.Phase == job.PhaseFailed {
		obs.ExitCode = j.exitCode
		obs.Message = j.message
	}
	if obs.Phase == job.PhaseSucceeded {
		zero := 0
		obs.ExitCode = &zero
	}
	if obs.Phase.IsTerminal() {
		obs.FinishedAt = j.finishedAt()
	}
	return obs, nil
}

// Delete implements job.Compute.
func (c *Compute) Delete(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.popErr(); err != nil {
		return err
	}
	if _, ok := c.jobs[name]; ok {
		delete(c.jobs, name)
		c.Deletes.Add(1)
	}
	return nil
}

// List implements job.Lister.
func (c *Compute) List(ctx context.Context) ([]job.Listing, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.popErr(); err != nil {
		return nil, err
	}
	out := make([]job.Listing, 0, len(c.jobs))
	for name, j := range c.jobs {
		l := job.Listing{
			Name:       name,
			VideoID:    j.spec.Labels[job.LabelVideoID],
			Downloader: j.spec.Labels[job.LabelDownloader],
			Phase:      j.phases[0],
		}
		if l.Phase.IsTerminal() {
			l.FinishedAt = j.finishedAt()
		}
		out = append(out, l)
	}
	return out, nil
}

func (j *fakeJob) finishedAt() time.Time {
	if j.finished.IsZero() {
		return time.Now()
	}
	return j.finished
}

// Ready implements job.Compute.
func (c *Compute) Ready(ctx context.Context) error { return nil }

// Close implements job.Compute.
func (c *Compute) Close() error { return nil }

var (
	_ job.Compute = (*Compute)(nil)
	_ job.Lister  = (*Compute)(nil)
)
