package workers

import (
	"context"
	"log"
	"sync"
)

// ImageJob is one source file handed to a batch worker. Index is the
// file's position in the batch.
type ImageJob struct {
	Index int
	Path  string
}

// ImageHandler processes one job on a worker goroutine.
type ImageHandler func(ctx context.Context, workerID int, job ImageJob)

// ImageProcessor is a fixed pool of workers draining JobQueue.
type ImageProcessor struct {
	JobQueue chan ImageJob
	Wg       sync.WaitGroup
	StopChan chan struct{}

	handler   ImageHandler
	closeOnce sync.Once
	stopOnce  sync.Once
}

func NewImageProcessor(ctx context.Context, handler ImageHandler, queueSize, numWorkers int) *ImageProcessor {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	proc := &ImageProcessor{
		JobQueue: make(chan ImageJob, queueSize),
		StopChan: make(chan struct{}),
		handler:  handler,
	}
	proc.Wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go proc.worker(ctx, i)
	}
	log.Printf("workers: started %d image worker(s) with queue size %d", numWorkers, queueSize)
	return proc
}

func (ip *ImageProcessor) worker(ctx context.Context, id int) {
	defer ip.Wg.Done()
	for {
		select {
		case job, ok := <-ip.JobQueue:
			if !ok {
				return
			}
			ip.handler(ctx, id, job)
		case <-ip.StopChan:
			log.Printf("workers: image worker %d stopping: stop signal received", id)
			return
		}
	}
}

// QueueJob blocks until job is queued. It returns false once the processor
// is stopped or ctx is done. It must not be called after Wait.
func (ip *ImageProcessor) QueueJob(ctx context.Context, job ImageJob) bool {
	select {
	case <-ctx.Done():
		return false
	case <-ip.StopChan:
		return false
	default:
	}
	select {
	case ip.JobQueue <- job:
		return true
	case <-ip.StopChan:
		return false
	case <-ctx.Done():
		return false
	}
}

// Wait closes the queue and blocks until every queued job has run.
func (ip *ImageProcessor) Wait() {
	ip.closeOnce.Do(func() { close(ip.JobQueue) })
	ip.Wg.Wait()
}

// Stop makes workers exit after their current job, abandoning queued ones.
func (ip *ImageProcessor) Stop() {
	ip.stopOnce.Do(func() { close(ip.StopChan) })
	ip.Wg.Wait()
}

// RunBatch runs handler over paths on numWorkers goroutines and waits for
// the batch to finish. Dispatch stops when ctx is cancelled; the returned
// count is how many paths were handed to a worker.
func RunBatch(ctx context.Context, paths []string, numWorkers int, handler ImageHandler) int {
	if len(paths) == 0 {
		return 0
	}
	if numWorkers > len(paths) {
		numWorkers = len(paths)
	}
	proc := NewImageProcessor(ctx, handler, numWorkers*2, numWorkers)
	dispatched := 0
	for i, p := range paths {
		if !proc.QueueJob(ctx, ImageJob{Index: i, Path: p}) {
			log.Printf("workers: dispatch stopped after %d of %d files: %v", dispatched, len(paths), ctx.Err())
			break
		}
		dispatched++
	}
	proc.Wait()
	return dispatched
}
