package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"flowherd/pkg/model"
)

// errorKeywords flag a run as failed when any stderr line contains one of
// them, case-insensitively.
var errorKeywords = []string{"error", "fail", "exception"}

// flushInterval bounds log-data loss on a crash to roughly this window.
const flushInterval = 5 * time.Second

// EventKind discriminates supervisor events.
type EventKind int

const (
	// EventJob reports a discrete sub-step status change.
	EventJob EventKind = iota
	// EventExit reports the final status, exactly once, after both streams
	// are fully drained.
	EventExit
	// EventFault surfaces an unexpected stream fault to the owner instead of
	// swallowing it. No EventExit follows a fault.
	EventFault
)

// Event is published on the supervisor's channel; the owning engine
// subscribes instead of receiving callbacks into arbitrary contexts.
type Event struct {
	Kind    EventKind
	Job     model.JobMetadata
	Status  model.TaskStatus
	Outputs map[string]json.RawMessage
	Err     error
}

// Supervisor turns one spawned process into a polling-compatible task. It
// owns the process's output streams exclusively, tails them on its own
// goroutine, appends every line to a durable log file, and publishes job and
// exit events on its channel.
type Supervisor struct {
	stdout io.Reader
	stderr io.Reader

	mu   sync.Mutex
	logf *os.File
	logw *bufio.Writer

	flushEvery time.Duration

	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSupervisor wraps an already-started process's stdout/stderr. The log
// file is opened in append mode so an external viewer can tail it.
func NewSupervisor(stdout, stderr io.Reader, logPath string) (*Supervisor, error) {
	logf, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &Supervisor{
		stdout:     stdout,
		stderr:     stderr,
		logf:       logf,
		logw:       bufio.NewWriter(logf),
		flushEvery: flushInterval,
		events:     make(chan Event, 64),
		stop:       make(chan struct{}),
	}, nil
}

// Events is the subscription channel; it is closed after the exit or fault
// event.
func (s *Supervisor) Events() <-chan Event { return s.events }

// Stop requests cooperative shutdown. The flag is observed at the next
// line-read boundary; the underlying process is not forced to terminate.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Supervisor) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Run tails stdout then stderr to completion and emits the exit event. Call
// it on its own goroutine.
func (s *Supervisor) Run() {
	defer close(s.events)
	defer s.closeLog()

	// Flush on a timer, not per line, so a line followed by a quiet stretch
	// still reaches disk within one interval.
	flusher := time.NewTicker(s.flushEvery)
	flushDone := make(chan struct{})
	go func() {
		for {
			select {
			case <-flusher.C:
				s.flushLog()
			case <-flushDone:
				return
			}
		}
	}()
	defer func() {
		flusher.Stop()
		close(flushDone)
	}()

	outputs := map[string]json.RawMessage{}

	sc := bufio.NewScanner(s.stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if s.stopped() {
			return
		}
		line := sc.Text()
		s.appendLog(line)

		// Any line that parses as a JSON object is the output mapping; the
		// last successful parse wins and replaces what came before. Parse
		// failures are ordinary log output and are deliberately discarded.
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &obj); err == nil && obj != nil {
			outputs = obj
			if job, ok := jobUpdate(obj); ok {
				s.events <- Event{Kind: EventJob, Job: job}
			}
		}
	}
	if err := sc.Err(); err != nil {
		s.flushLog()
		s.events <- Event{Kind: EventFault, Err: fmt.Errorf("read stdout: %w", err)}
		return
	}

	// Stdout is closed; drain stderr the same way. A keyword match flags the
	// run failed but never cuts the drain short.
	hasError := false
	sce := bufio.NewScanner(s.stderr)
	sce.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sce.Scan() {
		if s.stopped() {
			return
		}
		line := sce.Text()
		s.appendLog(line)
		lower := strings.ToLower(line)
		for _, kw := range errorKeywords {
			if strings.Contains(lower, kw) {
				hasError = true
				break
			}
		}
	}
	if err := sce.Err(); err != nil {
		s.flushLog()
		s.events <- Event{Kind: EventFault, Err: fmt.Errorf("read stderr: %w", err)}
		return
	}

	s.flushLog()

	status := model.StatusCompleted
	if hasError {
		status = model.StatusFailed
	}
	s.events <- Event{Kind: EventExit, Status: status, Outputs: outputs}
}

func (s *Supervisor) appendLog(line string) {
	s.mu.Lock()
	_, _ = s.logw.WriteString(line)
	_ = s.logw.WriteByte('\n')
	s.mu.Unlock()
}

func (s *Supervisor) flushLog() {
	s.mu.Lock()
	_ = s.logw.Flush()
	_ = s.logf.Sync()
	s.mu.Unlock()
}

func (s *Supervisor) closeLog() {
	s.mu.Lock()
	_ = s.logw.Flush()
	_ = s.logf.Sync()
	_ = s.logf.Close()
	s.mu.Unlock()
}

// jobUpdate recognises stdout lines that carry a sub-step status change:
// JSON objects with jobId and status keys.
func jobUpdate(obj map[string]json.RawMessage) (model.JobMetadata, bool) {
	rawID, okID := obj["jobId"]
	rawStatus, okStatus := obj["status"]
	if !okID || !okStatus {
		return model.JobMetadata{}, false
	}
	var id, status string
	if json.Unmarshal(rawID, &id) != nil || json.Unmarshal(rawStatus, &status) != nil {
		return model.JobMetadata{}, false
	}
	job := model.JobMetadata{ID: id, Status: model.StatusFromEngine(status)}
	if raw, ok := obj["stdout"]; ok {
		_ = json.Unmarshal(raw, &job.Stdout)
	}
	if raw, ok := obj["stderr"]; ok {
		_ = json.Unmarshal(raw, &job.Stderr)
	}
	return job, true
}
