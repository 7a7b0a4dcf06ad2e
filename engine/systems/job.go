package systems

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/lumen/engine/core"
)

/** @brief Describes a job to be run. */
type JobTask struct {
	/** @brief Used in logs only. */
	Name string
	/** @brief Invoked on a worker. Required. */
	Run func() error
	/** @brief Invoked on the worker when Run succeeded. Optional. */
	OnComplete func()
	/** @brief Invoked on the worker when Run failed. Optional. */
	OnFailure func(err error)
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan JobTask, channelSize),
	}
	js.start()
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				if err := job.Run(); err != nil {
					core.LogError("job %s failed: %s", job.Name, err)
					if job.OnFailure != nil {
						job.OnFailure(err)
					}
					continue
				}
				if job.OnComplete != nil {
					job.OnComplete()
				}
			}
		}()
	}
}

func (js *JobSystem) Workers() int {
	return js.numWorkers
}

/**
 * @brief Shuts the job system down, waiting for queued jobs to drain.
 */
func (js *JobSystem) Shutdown() error {
	js.closeOnce.Do(func() { close(js.jobQueue) })
	js.wg.Wait()
	return nil
}

/**
 * @brief Submits the provided job to be queued for execution.
 * @param jt The description of the job to be executed.
 */
func (js *JobSystem) Submit(jt JobTask) {
	js.jobQueue <- jt
}

/**
 * @brief Runs every task on the pool and blocks until all of them finished.
 * @returns the errors of the failed tasks joined together, nil if all succeeded.
 */
func (js *JobSystem) RunAll(tasks []JobTask) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	wg.Add(len(tasks))
	for _, t := range tasks {
		t := t
		onComplete, onFailure := t.OnComplete, t.OnFailure
		t.OnComplete = func() {
			defer wg.Done()
			if onComplete != nil {
				onComplete()
			}
		}
		t.OnFailure = func(err error) {
			defer wg.Done()
			mu.Lock()
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
			mu.Unlock()
			if onFailure != nil {
				onFailure(err)
			}
		}
		js.Submit(t)
	}
	wg.Wait()
	return errors.Join(errs...)
}
