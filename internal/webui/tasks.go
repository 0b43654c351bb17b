package webui

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

type TaskInfo struct {
	ID          string     `json:"task_id"`
	Name        string     `json:"name"`
	Status      TaskStatus `json:"status"`
	Message     string     `json:"message,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TaskFunc runs in the background; progress updates the task message
// visible to pollers.
type TaskFunc func(progress func(string)) (any, error)

// TaskManager tracks background tasks so the UI can poll them. Finished
// tasks are dropped an hour after completion.
type TaskManager struct {
	mu           sync.Mutex
	tasks        map[string]*TaskInfo
	cleanupAfter time.Duration
	now          func() time.Time
}

func NewTaskManager() *TaskManager {
	return &TaskManager{
		tasks:        make(map[string]*TaskInfo),
		cleanupAfter: time.Hour,
		now:          time.Now,
	}
}

func (tm *TaskManager) Start(name string, fn TaskFunc) string {
	tm.cleanup()

	id := newTaskID()
	task := &TaskInfo{
		ID:        id,
		Name:      name,
		Status:    TaskRunning,
		StartedAt: tm.now(),
	}
	tm.mu.Lock()
	tm.tasks[id] = task
	tm.mu.Unlock()

	progress := func(message string) {
		tm.mu.Lock()
		defer tm.mu.Unlock()
		if t, ok := tm.tasks[id]; ok {
			t.Message = message
		}
	}

	go func() {
		result, err := fn(progress)
		now := tm.now()
		tm.mu.Lock()
		defer tm.mu.Unlock()
		t, ok := tm.tasks[id]
		if !ok {
			return
		}
		t.CompletedAt = &now
		if err != nil {
			t.Status = TaskFailed
			t.Error = err.Error()
			return
		}
		t.Status = TaskCompleted
		t.Result = result
	}()

	return id
}

// Get returns a snapshot of the task.
func (tm *TaskManager) Get(id string) (TaskInfo, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	t, ok := tm.tasks[id]
	if !ok {
		return TaskInfo{}, false
	}
	return *t, true
}

// HasRunning reports whether a task with the given name is still
// running. An empty name matches any task.
func (tm *TaskManager) HasRunning(name string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for _, t := range tm.tasks {
		if t.Status == TaskRunning && (name == "" || t.Name == name) {
			return true
		}
	}
	return false
}

func (tm *TaskManager) cleanup() {
	cutoff := tm.now().Add(-tm.cleanupAfter)
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for id, t := range tm.tasks {
		if t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(tm.tasks, id)
		}
	}
}

func newTaskID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
