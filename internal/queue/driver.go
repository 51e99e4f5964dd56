package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Executor runs one job by id. It is JobQueue.Process.
type Executor func(ctx context.Context, jobID string) error

// TaskScheduler wakes the executor at or after a job's due time. Delivery is
// at least once; the executor's claim makes duplicates harmless.
type TaskScheduler interface {
	Schedule(ctx context.Context, jobID string, runAt time.Time) error
	Start(exec Executor) error
	Stop()
}

// TimerDriver keeps pending wake-ups in process. Jobs survive a restart
// through JobQueue.Recover, not through the driver.
type TimerDriver struct {
	mu      sync.Mutex
	exec    Executor
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
	once    sync.Once

	logger *zap.SugaredLogger
}

func NewTimerDriver(logger *zap.SugaredLogger) *TimerDriver {
	return &TimerDriver{
		timers: make(map[string]*time.Timer),
		logger: logger,
	}
}

func (d *TimerDriver) Start(exec Executor) error {
	d.mu.Lock()
	d.exec = exec
	d.mu.Unlock()
	return nil
}

func (d *TimerDriver) Schedule(ctx context.Context, jobID string, runAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return nil
	}
	if t, ok := d.timers[jobID]; ok {
		t.Stop()
	}

	delay := time.Until(runAt)
	if delay < 0 {
		delay = 0
	}
	d.timers[jobID] = time.AfterFunc(delay, func() { d.fire(jobID) })
	return nil
}

func (d *TimerDriver) fire(jobID string) {
	d.mu.Lock()
	delete(d.timers, jobID)
	exec := d.exec
	if d.stopped || exec == nil {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	if err := exec(context.Background(), jobID); err != nil {
		d.logger.Errorw("job execution failed", "job_id", jobID, "error", err)
	}
}

// Pending is the number of armed timers.
func (d *TimerDriver) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels armed timers and waits for running executions.
func (d *TimerDriver) Stop() {
	d.once.Do(func() {
		d.mu.Lock()
		d.stopped = true
		for id, t := range d.timers {
			t.Stop()
			delete(d.timers, id)
		}
		d.mu.Unlock()

		d.wg.Wait()
	})
}
