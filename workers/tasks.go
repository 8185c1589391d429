package workers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camden-git/objectmatch/realtime"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrQueueFull    = errors.New("task queue full")
	ErrStopped      = errors.New("task manager stopped")
)

// Task is a snapshot of one background job.
type Task struct {
	ID        string     `json:"task_id"`
	Kind      string     `json:"kind"`
	Status    TaskStatus `json:"status"`
	Message   string     `json:"message,omitempty"`
	Done      int        `json:"done"`
	Total     int        `json:"total"`
	Result    any        `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ProgressFunc reports how many of total units a task has finished.
type ProgressFunc func(done, total int)

// TaskFunc is the body of a background task. Its result is stored on the
// task when it returns without error.
type TaskFunc func(ctx context.Context, progress ProgressFunc) (any, error)

// Publisher receives task state changes.
type Publisher interface {
	Broadcast(event realtime.Event)
}

type queuedTask struct {
	id string
	fn TaskFunc
}

// TaskManager runs submitted tasks on a small worker pool and keeps their
// state for polling.
type TaskManager struct {
	JobQueue chan queuedTask
	Wg       sync.WaitGroup
	StopChan chan struct{}

	publisher Publisher
	ctx       context.Context
	cancel    context.CancelFunc
	stopOnce  sync.Once

	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewTaskManager starts numWorkers task workers. publisher may be nil.
func NewTaskManager(publisher Publisher, queueSize, numWorkers int) *TaskManager {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &TaskManager{
		JobQueue:  make(chan queuedTask, queueSize),
		StopChan:  make(chan struct{}),
		publisher: publisher,
		ctx:       ctx,
		cancel:    cancel,
		tasks:     make(map[string]*Task),
	}
	m.Wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go m.worker(i)
	}
	log.Printf("workers: started %d task worker(s) with queue size %d", numWorkers, queueSize)
	return m
}

func (m *TaskManager) worker(id int) {
	defer m.Wg.Done()
	for {
		select {
		case job := <-m.JobQueue:
			m.run(job)
		case <-m.StopChan:
			log.Printf("workers: task worker %d stopping", id)
			return
		}
	}
}

// Submit registers a pending task of the given kind and queues it.
func (m *TaskManager) Submit(kind, message string, fn TaskFunc) (Task, error) {
	select {
	case <-m.StopChan:
		return Task{}, ErrStopped
	default:
	}

	now := time.Now()
	task := &Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    TaskPending,
		Message:   message,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if len(m.JobQueue) == cap(m.JobQueue) {
		return Task{}, ErrQueueFull
	}

	m.mu.Lock()
	m.tasks[task.ID] = task
	snapshot := *task
	m.mu.Unlock()
	m.publish(snapshot)

	select {
	case m.JobQueue <- queuedTask{id: task.ID, fn: fn}:
	default:
		m.update(task.ID, func(t *Task) {
			t.Status = TaskFailed
			t.Error = ErrQueueFull.Error()
		})
		return Task{}, ErrQueueFull
	}

	log.Printf("workers: queued %s task %s", kind, task.ID)
	return snapshot, nil
}

func (m *TaskManager) run(job queuedTask) {
	m.update(job.id, func(t *Task) {
		t.Status = TaskRunning
	})

	result, err := func() (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return job.fn(m.ctx, func(done, total int) {
			m.update(job.id, func(t *Task) {
				t.Done, t.Total = done, total
			})
		})
	}()

	m.update(job.id, func(t *Task) {
		if err != nil {
			t.Status = TaskFailed
			t.Error = err.Error()
			log.Printf("workers: task %s failed: %v", t.ID, err)
			return
		}
		t.Status = TaskCompleted
		t.Result = result
		log.Printf("workers: task %s completed", t.ID)
	})
}

func (m *TaskManager) update(id string, fn func(t *Task)) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	fn(t)
	t.UpdatedAt = time.Now()
	snapshot := *t
	m.mu.Unlock()
	m.publish(snapshot)
}

func (m *TaskManager) publish(t Task) {
	if m.publisher == nil {
		return
	}
	m.publisher.Broadcast(realtime.Event{
		Type:      realtime.EventTypeTask,
		TaskID:    t.ID,
		Kind:      t.Kind,
		Status:    string(t.Status),
		Message:   t.Message,
		Done:      t.Done,
		Total:     t.Total,
		Error:     t.Error,
		Timestamp: t.UpdatedAt.Unix(),
	})
}

// Get returns a snapshot of the task with id.
func (m *TaskManager) Get(id string) (Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return *t, nil
}

// List returns every known task, newest first.
func (m *TaskManager) List() []Task {
	m.mu.RLock()
	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, *t)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Stop cancels running tasks and waits for the workers to exit. Queued
// tasks that never started stay pending.
func (m *TaskManager) Stop() {
	m.stopOnce.Do(func() {
		log.Println("workers: stopping task manager")
		m.cancel()
		close(m.StopChan)
	})
	m.Wg.Wait()
}
