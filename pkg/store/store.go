// Package store holds the local weekly task collection the UI mutates and
// persists it as a JSON file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/wurk2do/pkg/checksum"
	"github.com/harrisonrobin/wurk2do/pkg/model"
)

var (
	ErrUnknownDay       = errors.New("unknown day")
	ErrTaskNotFound     = errors.New("task not found")
	ErrIndexOutOfRange  = errors.New("index out of range")
	ErrInvalidPriority  = errors.New("priority must be between 0 and 3")
	ErrNegativeEstimate = errors.New("estimated hours must not be negative")
)

// TaskPatch lists the fields UpdateTask may change. Nil fields are left alone.
type TaskPatch struct {
	Text           *string
	Completed      *bool
	Priority       *int
	EstimatedHours *float64
}

// Store is the in-memory collection. Every mutation stamps lastModified on the
// touched task and on the collection.
type Store struct {
	Path string

	mu       sync.RWMutex
	data     *model.WeeklyTaskCollection
	dirty    bool
	now      func() time.Time
	onChange []func()
}

// New returns an empty store that is not backed by a file.
func New() *Store {
	return &Store{
		data: model.NewCollection(time.Now()),
		now:  time.Now,
	}
}

// Open returns a store backed by path, loading it when the file exists.
func Open(path string) (*Store, error) {
	s := New()
	s.Path = path
	if _, err := os.Stat(path); err == nil {
		if _, err := s.Reload(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// OnChange registers fn to run after every task mutation. LoadData does not fire it.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *Store) changed() {
	s.mu.RLock()
	hooks := append([]func(){}, s.onChange...)
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn()
	}
}

func checkDay(name model.Weekday) error {
	for _, d := range model.Weekdays {
		if d == name {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownDay, name)
}

func newTaskID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("task_%d_%s", model.Millis(now), suffix)
}

// AddTask appends a new task to day.
func (s *Store) AddTask(day model.Weekday, text string) (model.TaskRecord, error) {
	if err := checkDay(day); err != nil {
		return model.TaskRecord{}, err
	}

	s.mu.Lock()
	now := s.now()
	ms := model.Millis(now)
	task := model.TaskRecord{
		ID:           newTaskID(now),
		Text:         text,
		CreatedAt:    ms,
		LastModified: ms,
	}
	s.data.Tasks[day] = append(s.data.Tasks[day], task)
	s.touch(ms)
	s.mu.Unlock()

	s.changed()
	return task, nil
}

// UpdateTask applies patch to the task id on day.
func (s *Store) UpdateTask(day model.Weekday, id string, patch TaskPatch) error {
	if err := checkDay(day); err != nil {
		return err
	}
	if patch.Priority != nil && (*patch.Priority < 0 || *patch.Priority > 3) {
		return ErrInvalidPriority
	}
	if patch.EstimatedHours != nil && *patch.EstimatedHours < 0 {
		return ErrNegativeEstimate
	}

	s.mu.Lock()
	tasks := s.data.Tasks[day]
	idx := indexOf(tasks, id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s on %s", ErrTaskNotFound, id, day)
	}
	ms := model.Millis(s.now())
	task := tasks[idx]
	if patch.Text != nil {
		task.Text = *patch.Text
	}
	if patch.Completed != nil {
		task.Completed = *patch.Completed
	}
	if patch.Priority != nil {
		task.Priority = *patch.Priority
	}
	if patch.EstimatedHours != nil {
		task.EstimatedHours = *patch.EstimatedHours
	}
	task.LastModified = ms
	tasks[idx] = task
	s.touch(ms)
	s.mu.Unlock()

	s.changed()
	return nil
}

// DeleteTask removes the task id from day.
func (s *Store) DeleteTask(day model.Weekday, id string) error {
	if err := checkDay(day); err != nil {
		return err
	}

	s.mu.Lock()
	tasks := s.data.Tasks[day]
	idx := indexOf(tasks, id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s on %s", ErrTaskNotFound, id, day)
	}
	s.data.Tasks[day] = append(append([]model.TaskRecord{}, tasks[:idx]...), tasks[idx+1:]...)
	s.touch(model.Millis(s.now()))
	s.mu.Unlock()

	s.changed()
	return nil
}

// MoveTask moves a task from one day to position newIndex of another.
// The index is clamped to the destination bounds.
func (s *Store) MoveTask(id string, from, to model.Weekday, newIndex int) error {
	if err := checkDay(from); err != nil {
		return err
	}
	if err := checkDay(to); err != nil {
		return err
	}

	s.mu.Lock()
	source := s.data.Tasks[from]
	idx := indexOf(source, id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s on %s", ErrTaskNotFound, id, from)
	}
	ms := model.Millis(s.now())
	task := source[idx]
	task.LastModified = ms

	s.data.Tasks[from] = append(append([]model.TaskRecord{}, source[:idx]...), source[idx+1:]...)
	s.data.Tasks[to] = insertAt(s.data.Tasks[to], clamp(newIndex, len(s.data.Tasks[to])), task)
	s.touch(ms)
	s.mu.Unlock()

	s.changed()
	return nil
}

// ReorderTask moves the task at fromIndex to toIndex within day.
func (s *Store) ReorderTask(day model.Weekday, fromIndex, toIndex int) error {
	if err := checkDay(day); err != nil {
		return err
	}

	s.mu.Lock()
	tasks := s.data.Tasks[day]
	if fromIndex < 0 || fromIndex >= len(tasks) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d on %s", ErrIndexOutOfRange, fromIndex, day)
	}
	task := tasks[fromIndex]
	rest := append(append([]model.TaskRecord{}, tasks[:fromIndex]...), tasks[fromIndex+1:]...)
	s.data.Tasks[day] = insertAt(rest, clamp(toIndex, len(rest)), task)
	s.touch(model.Millis(s.now()))
	s.mu.Unlock()

	s.changed()
	return nil
}

// LoadData replaces the whole collection. Only tasks and lastModified are kept.
func (s *Store) LoadData(c *model.WeeklyTaskCollection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := model.NewCollection(s.now())
	if c != nil {
		for _, d := range model.Weekdays {
			next.Tasks[d] = append([]model.TaskRecord{}, c.Tasks[d]...)
		}
		if c.LastModified != 0 {
			next.LastModified = c.LastModified
		}
	}
	s.data = next
	s.dirty = true
}

// Snapshot returns a deep copy of the collection.
func (s *Store) Snapshot() *model.WeeklyTaskCollection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Clone()
}

func (s *Store) touch(ms int64) {
	s.data.LastModified = ms
	s.dirty = true
}

// Reload reads the backing file and replaces the collection when its content
// differs. It reports whether anything changed.
func (s *Store) Reload() (bool, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return false, err
	}
	c, err := model.Unmarshal(b)
	if err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", s.Path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if checksum.Quick(c) == checksum.Quick(s.data) {
		return false, nil
	}
	next := model.NewCollection(s.now())
	for _, d := range model.Weekdays {
		next.Tasks[d] = append(next.Tasks[d], c.Tasks[d]...)
	}
	if c.LastModified != 0 {
		next.LastModified = c.LastModified
	}
	s.data = next
	s.dirty = false
	return true, nil
}

// Save writes the collection to Path when it changed since the last save.
func (s *Store) Save() error {
	s.mu.RLock()
	if !s.dirty || s.Path == "" {
		s.mu.RUnlock()
		return nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tasks-*.json")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	s.dirty = false
	return nil
}

func indexOf(tasks []model.TaskRecord, id string) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

func insertAt(tasks []model.TaskRecord, i int, task model.TaskRecord) []model.TaskRecord {
	out := make([]model.TaskRecord, 0, len(tasks)+1)
	out = append(out, tasks[:i]...)
	out = append(out, task)
	return append(out, tasks[i:]...)
}
