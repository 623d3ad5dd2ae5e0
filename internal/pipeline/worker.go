package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgallion1/raptree/internal/loader"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("job queue is full")

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("orchestrator stopped")

const cleanupInterval = 5 * time.Minute

// Start launches the build workers and the job cleanup loop. Builds are
// serialized by the orchestrator, so extra workers only overlap loading.
func (o *Orchestrator) Start(ctx context.Context) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	if o.started || o.stopped {
		return
	}
	o.started = true

	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.JobWorkers {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					o.process(workerCtx, job)
				}
			}
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				if n := o.jobs.Cleanup(); n > 0 {
					o.log.Debug("expired jobs removed", "count", n)
				}
			}
		}
	}()
}

// Stop cancels running builds and waits for the workers. It is safe to call
// more than once.
func (o *Orchestrator) Stop() {
	o.stateMu.Lock()
	if o.stopped {
		o.stateMu.Unlock()
		return
	}
	o.stopped = true
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.stateMu.Unlock()
	o.wg.Wait()
}

// Submit registers job and queues it for a worker.
func (o *Orchestrator) Submit(job *Job) error {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	if o.stopped {
		return ErrStopped
	}
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		o.log.Info("job queued", "job_id", job.ID, "filename", job.Filename, "queue_depth", len(o.queue))
		return nil
	default:
		job.Fail("queue_full", ErrQueueFull)
		return fmt.Errorf("%w (%d)", ErrQueueFull, o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// process runs one job to completion. A job that loses the overwrite race
// fails with ErrOverwriteRequired and the existing tree stays.
func (o *Orchestrator) process(ctx context.Context, job *Job) {
	log := o.log.With("job_id", job.ID, "filename", job.Filename)

	text := job.text
	if job.fileData != nil {
		job.SetStatus(StatusLoading, "loading")
		loaded, err := loader.LoadText(bytes.NewReader(job.fileData), job.Filename)
		if err != nil {
			log.Error("load failed", "error", err)
			job.Fail("loading", err)
			return
		}
		text = loaded
		job.fileData = nil
	}
	job.mu.Lock()
	job.ContentHash = ContentHashHex([]byte(text))
	job.mu.Unlock()

	job.SetStatus(StatusBuilding, "building")
	info, err := o.Add(ctx, text, AddOptions{Overwrite: job.Overwrite, Progress: job.Report})
	if err != nil {
		log.Error("build job failed", "error", err)
		job.Fail("building", err)
		return
	}
	job.Complete(info)
	log.Info("build job completed", "total_nodes", info.TotalNodes, "num_layers", info.NumLayers)
}
