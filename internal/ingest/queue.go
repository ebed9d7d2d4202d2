package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/docqa/internal/rag"
	"github.com/user/docqa/internal/session"
	"github.com/user/docqa/internal/store"
)

// ErrQueueFull is returned when the ingestion queue cannot accept more work.
var ErrQueueFull = errors.New("ingestion queue at capacity")

// ErrTaskNotFound is returned for unknown or expired task IDs.
var ErrTaskNotFound = errors.New("task not found")

// TaskStatus tracks an ingestion task through its lifecycle.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// Task is the client-pollable record of one document ingestion. Records live
// in the shared store under task:<id> so any replica can answer a poll, and
// expire after the retention window.
type Task struct {
	ID         string     `json:"id"`
	UID        string     `json:"uid"`
	Status     TaskStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type job struct {
	taskID      string
	uid         string
	data        []byte
	contentType string
}

// Queue runs document ingestion on a fixed worker pool fed by a bounded
// channel. Enqueue never blocks: a full channel is an immediate ErrQueueFull.
type Queue struct {
	kv        store.KV
	reg       *session.Registry
	backend   rag.Backend
	jobs      chan job
	slots     chan struct{}
	workers   int
	timeout   time.Duration
	retention time.Duration

	wg     sync.WaitGroup
	logger *log.Logger
}

func NewQueue(kv store.KV, reg *session.Registry, backend rag.Backend, workers, queueSize int, timeout, retention time.Duration) *Queue {
	return &Queue{
		kv:        kv,
		reg:       reg,
		backend:   backend,
		jobs:      make(chan job, queueSize),
		slots:     make(chan struct{}, queueSize),
		workers:   workers,
		timeout:   timeout,
		retention: retention,
		logger:    log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}
}

// Start launches the worker pool.
func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Printf("started %d ingestion workers (queue size %d)", q.workers, cap(q.jobs))
}

// Close stops accepting work and waits for in-flight tasks to finish.
func (q *Queue) Close() {
	close(q.jobs)
	q.wg.Wait()
}

// Enqueue registers a new ingestion task for uid and hands the document to the
// worker pool. A queue slot is reserved up front, so a full queue is rejected
// before any session state changes and the uid's previous session survives
// intact. Once the slot is held, the session flips to processing before the
// job is queued, so a poll racing the enqueue never sees stale ready state.
func (q *Queue) Enqueue(ctx context.Context, uid string, data []byte, contentType string) (string, error) {
	select {
	case q.slots <- struct{}{}:
	default:
		return "", ErrQueueFull
	}

	task := Task{
		ID:        uuid.New().String(),
		UID:       uid,
		Status:    TaskPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.putTask(ctx, task); err != nil {
		<-q.slots
		return "", err
	}
	if err := q.reg.SetProcessing(ctx, uid); err != nil {
		<-q.slots
		return "", err
	}

	// cannot block: the held slot guarantees buffer room
	q.jobs <- job{taskID: task.ID, uid: uid, data: data, contentType: contentType}
	return task.ID, nil
}

// Task loads the record for id.
func (q *Queue) Task(ctx context.Context, id string) (Task, error) {
	val, ok, err := q.kv.Get(ctx, taskKey(id))
	if err != nil {
		return Task{}, err
	}
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	var task Task
	if err := json.Unmarshal([]byte(val), &task); err != nil {
		return Task{}, fmt.Errorf("corrupt task record %s: %w", id, err)
	}
	return task, nil
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for j := range q.jobs {
		<-q.slots
		start := time.Now()
		q.process(j)
		q.logger.Printf("worker %d finished task %s for uid %s in %v", id, j.taskID, j.uid, time.Since(start).Round(time.Millisecond))
	}
}

// process runs the ingestion pipeline for one job under the task timeout:
// extract, chunk, build the artifact, persist it, flip the session to ready.
func (q *Queue) process(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	q.setTaskStatus(ctx, j.taskID, TaskRunning)

	if err := q.ingest(ctx, j); err != nil {
		q.logger.Printf("task %s failed for uid %s: %v", j.taskID, j.uid, err)
		q.finishTask(context.Background(), j.taskID, TaskFailed, err.Error())
		if serr := q.reg.SetError(context.Background(), j.uid, failureReason(err)); serr != nil {
			q.logger.Printf("mark session %s failed: %v", j.uid, serr)
		}
		return
	}
	q.finishTask(ctx, j.taskID, TaskSucceeded, "")
}

func (q *Queue) ingest(ctx context.Context, j job) error {
	chunks, err := q.backend.ExtractAndChunk(ctx, j.data, j.contentType)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	artifact, err := q.backend.BuildArtifact(ctx, chunks)
	if err != nil {
		return fmt.Errorf("build artifact: %w", err)
	}
	blob, err := artifact.Marshal()
	if err != nil {
		return fmt.Errorf("serialize artifact: %w", err)
	}
	if err := q.reg.SetReady(ctx, j.uid, blob); err != nil {
		return fmt.Errorf("persist artifact: %w", err)
	}
	return nil
}

// failureReason maps an internal error to the short reason clients see in the
// session status. Capacity failures keep their message, everything else is
// collapsed so internals never leak.
func failureReason(err error) string {
	switch {
	case errors.Is(err, rag.ErrCapacityExceeded):
		return rag.ErrCapacityExceeded.Error()
	case errors.Is(err, rag.ErrUnsupportedContent):
		return rag.ErrUnsupportedContent.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "processing timed out"
	default:
		return "processing failed"
	}
}

func taskKey(id string) string { return fmt.Sprintf("task:%s", id) }

func (q *Queue) putTask(ctx context.Context, task Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.kv.Set(ctx, taskKey(task.ID), string(raw), q.retention)
}

func (q *Queue) setTaskStatus(ctx context.Context, id string, status TaskStatus) {
	task, err := q.Task(ctx, id)
	if err != nil {
		q.logger.Printf("update task %s: %v", id, err)
		return
	}
	task.Status = status
	if err := q.putTask(ctx, task); err != nil {
		q.logger.Printf("update task %s: %v", id, err)
	}
}

func (q *Queue) finishTask(ctx context.Context, id string, status TaskStatus, errMsg string) {
	task, err := q.Task(ctx, id)
	if err != nil {
		q.logger.Printf("finish task %s: %v", id, err)
		return
	}
	now := time.Now().UTC()
	task.Status = status
	task.Error = errMsg
	task.FinishedAt = &now
	if err := q.putTask(ctx, task); err != nil {
		q.logger.Printf("finish task %s: %v", id, err)
	}
}
