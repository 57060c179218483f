// Package queue is a durable file-backed message queue. Each message is one
// JSON file; its lifecycle is a rename between state directories, so every
// transition is atomic and the backlog survives a crash.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Message kinds, ordered by dispatch priority.
const (
	KindEmergencyStop = "emergency_stop"
	KindListingEvent  = "listing_event"
	KindManualTrade   = "manual_trade"
	KindHousekeeping  = "housekeeping"
)

// State directories under the queue root.
const (
	dirPending    = "pending"
	dirProcessing = "processing"
	dirCompleted  = "completed"
	dirFailed     = "failed"
)

// ErrEmpty is returned by DequeueNext when no message is ready.
var ErrEmpty = errors.New("queue is empty")

// ErrLocked is returned when a message is already locked by another owner.
var ErrLocked = errors.New("message is locked")

// Message is the durable unit of work.
type Message struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Attempts  int             `json:"attempts"`
	Payload   json.RawMessage `json:"payload"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`

	// filename is the message's on-disk name; it carries priority and age
	// and never changes across state transitions.
	filename string
}

// Metrics tracks queue statistics.
type Metrics struct {
	Enqueued  uint64
	Completed uint64
	Failed    uint64
	Retried   uint64
	Recovered uint64
}

// Queue is the file-backed queue. Safe for concurrent use within a process;
// cross-process exclusion is handled by lock files.
type Queue struct {
	root        string
	maxAttempts int
	owner       string

	mu      sync.Mutex
	metrics Metrics
}

// priorityFor maps a message kind to its filename priority digit. Lower
// sorts first, so a plain directory scan yields priority-then-age order.
func priorityFor(kind string) int {
	switch kind {
	case KindEmergencyStop:
		return 0
	case KindListingEvent:
		return 1
	case KindManualTrade:
		return 2
	default:
		return 3
	}
}

// New opens (and creates if needed) a queue rooted at dir. owner identifies
// this process in lock files; use Owner() to build it.
func New(dir string, maxAttempts int, owner string) (*Queue, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	for _, d := range []string{dirPending, dirProcessing, dirCompleted, dirFailed} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return nil, fmt.Errorf("create queue directory %s: %w", d, err)
		}
	}
	return &Queue{root: dir, maxAttempts: maxAttempts, owner: owner}, nil
}

// Enqueue persists a message into pending. The payload is marshalled JSON.
func (q *Queue) Enqueue(kind string, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	msg := &Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   raw,
		CreatedAt: time.Now(),
	}
	// Zero-padded nanos keep lexicographic order equal to age order.
	msg.filename = fmt.Sprintf("p%d-%019d-%s.json", priorityFor(kind), msg.CreatedAt.UnixNano(), msg.ID)

	if err := q.writeMessage(dirPending, msg); err != nil {
		return nil, err
	}
	atomic.AddUint64(&q.metrics.Enqueued, 1)
	return msg, nil
}

// writeMessage writes msg into the state dir via temp-write-then-rename so a
// crash never leaves a half-written message visible.
func (q *Queue) writeMessage(state string, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	tmp := filepath.Join(q.root, state, "."+msg.filename+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temp message: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write message: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync message: %w", err)
	}
	f.Close()

	if err := os.Rename(tmp, filepath.Join(q.root, state, msg.filename)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// DequeueNext claims the highest-priority, oldest pending message: it locks
// the message, moves it to processing and returns it. Returns ErrEmpty when
// nothing is claimable.
func (q *Queue) DequeueNext() (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.listSorted(dirPending)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		msg, err := q.readMessage(dirPending, name)
		if err != nil {
			log.Printf("⚠️ queue: unreadable message %s (skipping): %v", name, err)
			continue
		}
		if err := q.lock(name); err != nil {
			if errors.Is(err, ErrLocked) {
				continue
			}
			return nil, err
		}
		if err := os.Rename(
			filepath.Join(q.root, dirPending, name),
			filepath.Join(q.root, dirProcessing, name),
		); err != nil {
			q.unlock(name)
			// Another claimer may have won the rename.
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("claim message %s: %w", name, err)
		}
		return msg, nil
	}
	return nil, ErrEmpty
}

// Lock takes the exclusive lock for a message by ID without dequeuing it.
// Used by operators inspecting stuck messages.
func (q *Queue) Lock(messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	name, err := q.findByID(messageID)
	if err != nil {
		return err
	}
	return q.lock(name)
}

// lock creates the sidecar lock file carrying the owner identity. O_EXCL
// makes acquisition atomic across processes sharing the directory.
func (q *Queue) lock(name string) error {
	f, err := os.OpenFile(q.lockPath(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrLocked
		}
		return fmt.Errorf("create lock: %w", err)
	}
	_, werr := f.WriteString(q.owner)
	f.Close()
	if werr != nil {
		os.Remove(q.lockPath(name))
		return fmt.Errorf("write lock owner: %w", werr)
	}
	return nil
}

func (q *Queue) unlock(name string) {
	os.Remove(q.lockPath(name))
}

func (q *Queue) lockPath(name string) string {
	return filepath.Join(q.root, dirProcessing, name+".lock")
}

// Complete moves a processing message to completed and releases its lock.
func (q *Queue) Complete(msg *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := os.Rename(
		filepath.Join(q.root, dirProcessing, msg.filename),
		filepath.Join(q.root, dirCompleted, msg.filename),
	); err != nil {
		return fmt.Errorf("complete message %s: %w", msg.ID, err)
	}
	q.unlock(msg.filename)
	atomic.AddUint64(&q.metrics.Completed, 1)
	return nil
}

// Fail records a processing failure. Below the attempt budget the message
// goes back to pending with the error noted; at the budget it is terminal
// and lands in failed.
func (q *Queue) Fail(msg *Message, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg.Attempts++
	if cause != nil {
		msg.LastError = cause.Error()
	}

	target := dirPending
	if msg.Attempts >= q.maxAttempts {
		target = dirFailed
	}

	if err := q.writeMessage(target, msg); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(q.root, dirProcessing, msg.filename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove processing copy of %s: %w", msg.ID, err)
	}
	q.unlock(msg.filename)

	if target == dirFailed {
		atomic.AddUint64(&q.metrics.Failed, 1)
		log.Printf("❌ queue: message %s (%s) failed permanently after %d attempts: %s",
			msg.ID, msg.Kind, msg.Attempts, msg.LastError)
	} else {
		atomic.AddUint64(&q.metrics.Retried, 1)
	}
	return nil
}

// Recover sweeps processing for messages whose lock is missing or whose
// owner is dead, and returns them to pending. Call once at startup before
// consuming.
func (q *Queue) Recover() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.listSorted(dirProcessing)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, name := range names {
		owner, err := os.ReadFile(q.lockPath(name))
		if err == nil && ownerAlive(string(owner), q.owner) {
			continue
		}
		if err := os.Rename(
			filepath.Join(q.root, dirProcessing, name),
			filepath.Join(q.root, dirPending, name),
		); err != nil {
			return recovered, fmt.Errorf("recover message %s: %w", name, err)
		}
		q.unlock(name)
		recovered++
	}

	if recovered > 0 {
		atomic.AddUint64(&q.metrics.Recovered, uint64(recovered))
		log.Printf("🔄 queue: recovered %d orphaned messages", recovered)
	}
	return recovered, nil
}

// Depth returns the number of pending messages.
func (q *Queue) Depth() (int, error) {
	names, err := q.listSorted(dirPending)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// GetMetrics returns a snapshot of queue counters.
func (q *Queue) GetMetrics() Metrics {
	return Metrics{
		Enqueued:  atomic.LoadUint64(&q.metrics.Enqueued),
		Completed: atomic.LoadUint64(&q.metrics.Completed),
		Failed:    atomic.LoadUint64(&q.metrics.Failed),
		Retried:   atomic.LoadUint64(&q.metrics.Retried),
		Recovered: atomic.LoadUint64(&q.metrics.Recovered),
	}
}

func (q *Queue) listSorted(state string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(q.root, state))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", state, err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (q *Queue) readMessage(state, name string) (*Message, error) {
	data, err := os.ReadFile(filepath.Join(q.root, state, name))
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", name, err)
	}
	msg.filename = name
	return &msg, nil
}

func (q *Queue) findByID(messageID string) (string, error) {
	for _, state := range []string{dirPending, dirProcessing} {
		names, err := q.listSorted(state)
		if err != nil {
			return "", err
		}
		for _, name := range names {
			if strings.Contains(name, messageID) {
				return name, nil
			}
		}
	}
	return "", fmt.Errorf("message %s not found", messageID)
}
