package engine

import (
	"encoding/json"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"flowherd/pkg/model"
)

// Shell runs a workflow as a directly-supervised local process. There is no
// external server, so the engine task id is the orchestrator's own task id.
type Shell struct {
	id string

	mu   sync.Mutex
	runs map[string]*shellRun
}

type shellRun struct {
	status  model.TaskStatus
	start   time.Time
	finish  *time.Time
	jobs    map[string]model.JobMetadata
	order   []string
	outputs map[string]json.RawMessage
	errText string

	cmd      *exec.Cmd
	sup      *Supervisor
	waitOnce sync.Once
}

// reap waits on the process exactly once, from whichever path finished it,
// so neither a normal exit nor a terminate leaves a zombie behind.
func (r *shellRun) reap() {
	r.waitOnce.Do(func() { _ = r.cmd.Wait() })
}

func NewShell(id string) *Shell {
	if id == "" {
		id = "shell"
	}
	return &Shell{id: id, runs: map[string]*shellRun{}}
}

func (s *Shell) ID() string { return s.id }

// Start spawns `sh workflowPath inputsPath` and hands its streams to a
// supervisor. The durable log lands in the task's logs directory, which sits
// next to the workflow directory holding the prepared files.
func (s *Shell) Start(wid, workflowPath, inputsPath, depsPath string) (string, error) {
	cmd := exec.Command("sh", workflowPath, inputsPath)
	// Own process group, so terminate can stop workflow children along with
	// the shell itself.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", workflowPath, err)
	}
	log.Printf("shell engine started wid=%s pid=%d", wid, cmd.Process.Pid)

	logPath := filepath.Join(filepath.Dir(workflowPath), "..", "logs", wid+".log")
	sup, err := NewSupervisor(stdout, stderr, logPath)
	if err != nil {
		_ = cmd.Process.Kill()
		return "", err
	}

	run := &shellRun{
		status:  model.StatusProcessing,
		start:   time.Now(),
		jobs:    map[string]model.JobMetadata{},
		outputs: map[string]json.RawMessage{},
		cmd:     cmd,
		sup:     sup,
	}
	s.mu.Lock()
	s.runs[wid] = run
	s.mu.Unlock()

	go sup.Run()
	go s.consume(wid, run)
	return wid, nil
}

// consume drains the supervisor's event channel into the run record; it is
// the only writer besides Terminate.
func (s *Shell) consume(wid string, run *shellRun) {
	for ev := range run.sup.Events() {
		s.mu.Lock()
		switch ev.Kind {
		case EventJob:
			if _, seen := run.jobs[ev.Job.ID]; !seen {
				run.order = append(run.order, ev.Job.ID)
				now := time.Now()
				ev.Job.Start = &now
			} else {
				ev.Job.Start = run.jobs[ev.Job.ID].Start
			}
			if ev.Job.Status.IsFinal() {
				now := time.Now()
				ev.Job.Finish = &now
			}
			run.jobs[ev.Job.ID] = ev.Job
		case EventExit:
			// Terminate may have already settled the run; never regress a
			// final status.
			if !run.status.IsFinal() {
				run.status = ev.Status
			}
			now := time.Now()
			run.finish = &now
			run.outputs = ev.Outputs
			log.Printf("shell engine wid=%s exited status=%s", wid, run.status)
		case EventFault:
			if !run.status.IsFinal() {
				run.status = model.StatusFailed
			}
			run.errText = ev.Err.Error()
			log.Printf("shell engine wid=%s stream fault: %v", wid, ev.Err)
		}
		s.mu.Unlock()
		if ev.Kind == EventExit {
			// Both streams are drained at this point; reap the process
			// outside the lock.
			run.reap()
		}
	}
}

func (s *Shell) PollStatus(tid string) (model.TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[tid]
	if !ok {
		return model.StatusProcessing, nil
	}
	return run.status, nil
}

func (s *Shell) Metadata(tid string) (model.TaskMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta := model.TaskMetadata{TID: tid, EngineName: s.id, Status: model.StatusProcessing}
	run, ok := s.runs[tid]
	if !ok {
		return meta, nil
	}
	meta.Status = run.status
	meta.Error = run.errText
	for _, id := range run.order {
		meta.Jobs = append(meta.Jobs, run.jobs[id])
	}
	return meta, nil
}

func (s *Shell) Outputs(tid string) (map[string]model.OutputValue, error) {
	s.mu.Lock()
	raw := map[string]json.RawMessage{}
	if run, ok := s.runs[tid]; ok {
		for k, v := range run.outputs {
			raw[k] = v
		}
	}
	s.mu.Unlock()
	return model.DecodeOutputs(raw)
}

func (s *Shell) Terminate(tid string) (model.TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[tid]
	if !ok {
		return model.StatusAborted, nil
	}
	if run.status.IsFinal() {
		return run.status, nil
	}
	run.sup.Stop()
	if run.cmd != nil && run.cmd.Process != nil {
		// Signal the whole group; fall back to the shell alone if the group
		// is already gone.
		if err := syscall.Kill(-run.cmd.Process.Pid, syscall.SIGKILL); err != nil {
			_ = run.cmd.Process.Kill()
		}
		go run.reap()
	}
	run.status = model.StatusAborted
	now := time.Now()
	run.finish = &now
	return model.StatusAborted, nil
}

// RawMetadata archives the final in-memory run record verbatim.
func (s *Shell) RawMetadata(tid string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[tid]
	if !ok {
		return nil, fmt.Errorf("unknown shell task %q", tid)
	}
	archive := struct {
		TID     string                     `json:"tid"`
		Status  model.TaskStatus           `json:"status"`
		Start   time.Time                  `json:"start"`
		Finish  *time.Time                 `json:"finish,omitempty"`
		Jobs    []model.JobMetadata        `json:"jobs,omitempty"`
		Outputs map[string]json.RawMessage `json:"outputs,omitempty"`
		Error   string                     `json:"error,omitempty"`
	}{
		TID: tid, Status: run.status, Start: run.start, Finish: run.finish,
		Outputs: run.outputs, Error: run.errText,
	}
	for _, id := range run.order {
		archive.Jobs = append(archive.Jobs, run.jobs[id])
	}
	return json.MarshalIndent(archive, "", "  ")
}
