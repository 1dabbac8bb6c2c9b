package task

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"flowherd/pkg/engine"
	"flowherd/pkg/environment"
	"flowherd/pkg/model"
	"flowherd/pkg/progress"
	"flowherd/pkg/translate"
)

// subdirectories created under every task root.
var taskSubdirs = []string{"workflow", "metadata", "validation", "outputs", "logs"}

// Manager drives one task through its lifecycle: prepare, submit, wait for a
// final state, archive metadata, copy outputs, save logs. Every step is
// guarded by the progress ledger and marked only after its side effect
// durably completed, so an interrupted run resumes exactly where it stopped.
type Manager struct {
	tid string
	dir string
	env environment.Environment

	store        progress.Store
	translator   translate.Translator
	pollInterval time.Duration
	out          io.Writer

	engineTID string
}

// Params bundle Manager construction inputs.
type Params struct {
	TID        string
	Dir        string
	Env        environment.Environment
	Store      progress.Store
	Translator translate.Translator
	// PollInterval defaults to 5s.
	PollInterval time.Duration
	// Out receives rendered progress snapshots; defaults to stdout.
	Out io.Writer
}

func newManager(p Params) (*Manager, error) {
	if p.Dir == "" {
		return nil, errors.New("task directory is required")
	}
	if p.Store == nil {
		s, err := progress.Open(p.Dir)
		if err != nil {
			return nil, err
		}
		p.Store = s
	}
	if p.Translator == nil {
		p.Translator = translate.ShellTranslator{}
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 5 * time.Second
	}
	if p.Out == nil {
		p.Out = os.Stdout
	}
	return &Manager{
		tid:          p.TID,
		dir:          p.Dir,
		env:          p.Env,
		store:        p.Store,
		translator:   p.Translator,
		pollInterval: p.PollInterval,
		out:          p.Out,
	}, nil
}

// Create sets up a new task: output tree, ledger, seed info keys. The task
// id is caller-assigned or generated.
func Create(p Params, validating bool) (*Manager, error) {
	if p.TID == "" {
		p.TID = uuid.NewString()
	}
	if err := createOutputTree(p.Dir); err != nil {
		return nil, err
	}
	m, err := newManager(p)
	if err != nil {
		return nil, err
	}
	seeds := []struct {
		key   progress.InfoKey
		value string
	}{
		{progress.InfoTaskID, m.tid},
		{progress.InfoStatus, string(model.StatusProcessing)},
		{progress.InfoValidating, fmt.Sprintf("%t", validating)},
		{progress.InfoEngine, m.env.Engine.ID()},
		{progress.InfoEnvironment, m.env.ID},
	}
	for _, s := range seeds {
		if err := m.store.SetInfo(s.key, s.value); err != nil {
			return nil, fmt.Errorf("task %s: seed info: %w", m.tid, err)
		}
	}
	return m, nil
}

// FromPath rehydrates a task from its directory alone. The environment and
// engine task id come from the ledger, never from caller arguments, so a
// resumed run is pinned to the environment it started with.
func FromPath(dir string, reg *environment.Registry, p Params) (*Manager, error) {
	p.Dir = dir
	if p.Store == nil {
		s, err := progress.Open(dir)
		if err != nil {
			return nil, err
		}
		p.Store = s
	}
	if err := progress.Validate(p.Store); err != nil {
		return nil, fmt.Errorf("resume %s: %w", dir, err)
	}

	tid, err := p.Store.GetInfo(progress.InfoTaskID)
	if err != nil {
		return nil, err
	}
	if tid == "" {
		return nil, fmt.Errorf("no task recorded in %s", dir)
	}
	envID, err := p.Store.GetInfo(progress.InfoEnvironment)
	if err != nil {
		return nil, err
	}
	env, err := reg.Get(envID)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", tid, err)
	}

	p.TID = tid
	p.Env = env
	return newManager(p)
}

// TID returns the task id.
func (m *Manager) TID() string { return m.tid }

// Close releases the ledger.
func (m *Manager) Close() error { return m.store.Close() }

// Run drives a workflow through the full lifecycle. Calling it again with
// the same arguments against the same task directory performs each side
// effect at most once.
func (m *Manager) Run(wf *translate.Workflow, val *translate.ValidationRequirements, opts translate.Options) error {
	wfEval, err := m.prepareWorkflow(wf, val, opts)
	if err != nil {
		return err
	}
	if err := m.submitWorkflow(wfEval); err != nil {
		return err
	}
	return m.Resume()
}

// Resume continues a submitted task: wait, archive metadata, copy outputs,
// save logs. Resuming a task that was never submitted is fatal.
func (m *Manager) Resume() error {
	submitted, err := m.store.HasCompleted(progress.StepSubmittedWorkflow)
	if err != nil {
		return err
	}
	if !submitted {
		return fmt.Errorf("cannot resume task %q: workflow was never submitted to the engine", m.tid)
	}
	if err := m.waitForFinalState(); err != nil {
		return err
	}
	if err := m.saveMetadata(); err != nil {
		return err
	}
	if err := m.copyOutputs(); err != nil {
		return err
	}
	if err := m.saveLogs(); err != nil {
		return err
	}
	log.Printf("finished managing task %q. view the outputs: file://%s", m.tid, m.dir)
	return nil
}

// prepareWorkflow writes the engine-native files under workflow/. When
// validation is requested the wrapped variant is written too and becomes the
// evaluated workflow; the originals stay on disk as record. The evaluated
// workflow is recomputed (without rewriting) when the step is already done,
// so a resumed Run still knows the submission filenames.
func (m *Manager) prepareWorkflow(wf *translate.Workflow, val *translate.ValidationRequirements, opts translate.Options) (*translate.Workflow, error) {
	wfEval := wf
	if val != nil {
		wfEval = translate.WrapForValidation(wf, *val)
	}

	done, err := m.store.HasCompleted(progress.StepSavedWorkflow)
	if err != nil {
		return nil, err
	}
	if done {
		log.Printf("task %q already saved its workflow, skipping", m.tid)
		return wfEval, nil
	}

	opts.WriteInputsFile = true
	if err := m.translator.Translate(wf, m.workflowDir(), opts); err != nil {
		return nil, fmt.Errorf("task %s: save workflow: %w", m.tid, err)
	}
	if val != nil {
		valOpts := opts
		valOpts.WithResourceOverrides = true
		valOpts.MergeResources = true
		if err := m.translator.Translate(wfEval, m.workflowDir(), valOpts); err != nil {
			return nil, fmt.Errorf("task %s: save validation workflow: %w", m.tid, err)
		}
	}
	log.Printf("task %q saved workflow %q to %s", m.tid, wfEval.ID, m.workflowDir())
	if err := m.store.MarkCompleted(progress.StepSavedWorkflow); err != nil {
		return nil, err
	}
	return wfEval, nil
}

func (m *Manager) submitWorkflow(wfEval *translate.Workflow) error {
	done, err := m.store.HasCompleted(progress.StepSubmittedWorkflow)
	if err != nil {
		return err
	}
	if done {
		log.Printf("task %q already submitted, skipping", m.tid)
		return nil
	}

	wfPath := filepath.Join(m.workflowDir(), m.translator.WorkflowFilename(wfEval))
	inputsPath := filepath.Join(m.workflowDir(), m.translator.InputsFilename(wfEval))
	depsPath := filepath.Join(m.workflowDir(), m.translator.DependenciesFilename(wfEval))

	log.Printf("submitting task %q to engine %q", m.tid, m.env.Engine.ID())
	etid, err := m.env.Engine.Start(m.tid, wfPath, inputsPath, depsPath)
	if err != nil {
		return fmt.Errorf("task %s: submit: %w", m.tid, err)
	}
	m.engineTID = etid
	if err := m.store.SetInfo(progress.InfoEngineTID, etid); err != nil {
		return err
	}
	log.Printf("submitted task %q, engine id %q", m.tid, etid)
	return m.store.MarkCompleted(progress.StepSubmittedWorkflow)
}

// waitForFinalState polls engine metadata on a fixed interval, rendering a
// snapshot each iteration, until the aggregate status is final. A resumed
// run with the step already done does not re-poll.
func (m *Manager) waitForFinalState() error {
	done, err := m.store.HasCompleted(progress.StepReachedFinalState)
	if err != nil {
		return err
	}
	if done {
		log.Printf("task %q already reached a final state, skipping", m.tid)
		if meta, err := m.Metadata(); err == nil {
			fmt.Fprintln(m.out, meta.Format())
		}
		return nil
	}

	for {
		meta, err := m.Metadata()
		if err != nil {
			return fmt.Errorf("task %s: poll metadata: %w", m.tid, err)
		}
		fmt.Fprintln(m.out, meta.Format())
		if meta.Status.IsFinal() {
			if err := m.store.SetInfo(progress.InfoStatus, string(meta.Status)); err != nil {
				return err
			}
			if meta.Error != "" {
				if err := m.store.SetInfo(progress.InfoError, meta.Error); err != nil {
					return err
				}
			}
			break
		}
		time.Sleep(m.pollInterval)
	}
	return m.store.MarkCompleted(progress.StepReachedFinalState)
}

// saveMetadata archives the engine's full metadata dump verbatim. An engine
// without an archival dump fails the step loudly; a silent skip would leave
// an unnoticed gap in the archived record.
func (m *Manager) saveMetadata() error {
	done, err := m.store.HasCompleted(progress.StepSavedMetadata)
	if err != nil {
		return err
	}
	if done {
		log.Printf("task %q already saved metadata, skipping", m.tid)
		return nil
	}

	etid, err := m.getEngineTID()
	if err != nil {
		return err
	}
	raw, err := m.env.Engine.RawMetadata(etid)
	if err != nil {
		if errors.Is(err, engine.ErrRawMetadataUnsupported) {
			return fmt.Errorf("task %s: engine %q cannot archive metadata: %w", m.tid, m.env.Engine.ID(), err)
		}
		return fmt.Errorf("task %s: fetch raw metadata: %w", m.tid, err)
	}
	path := filepath.Join(m.dir, "metadata", "metadata.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("task %s: write metadata archive: %w", m.tid, err)
	}
	return m.store.MarkCompleted(progress.StepSavedMetadata)
}

// copyOutputs stages every named output into outputs/, or into validation/
// when the task validates and the output name's suffix carries the validated
// marker.
func (m *Manager) copyOutputs() error {
	done, err := m.store.HasCompleted(progress.StepCopiedOutputs)
	if err != nil {
		return err
	}
	if done {
		log.Printf("task %q already copied outputs, skipping", m.tid)
		return nil
	}

	etid, err := m.getEngineTID()
	if err != nil {
		return err
	}
	outputs, err := m.env.Engine.Outputs(etid)
	if err != nil {
		return fmt.Errorf("task %s: fetch outputs: %w", m.tid, err)
	}
	validating, err := m.store.GetInfo(progress.InfoValidating)
	if err != nil {
		return err
	}

	outDir := filepath.Join(m.dir, "outputs")
	valDir := filepath.Join(m.dir, "validation")

	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dir := outDir
		if validating == "true" && isValidationOutput(name) {
			dir = valDir
		}
		if err := copyOutput(m.env.Transport, dir, name, outputs[name]); err != nil {
			return fmt.Errorf("task %s: %w", m.tid, err)
		}
	}
	return m.store.MarkCompleted(progress.StepCopiedOutputs)
}

// isValidationOutput checks whether the name's file-extension-like suffix
// carries the validated marker.
func isValidationOutput(name string) bool {
	parts := strings.Split(name, ".")
	return strings.HasPrefix(parts[len(parts)-1], translate.ValidatedPrefix)
}

// saveLogs copies each job's stdout/stderr locations into logs/.
func (m *Manager) saveLogs() error {
	done, err := m.store.HasCompleted(progress.StepSavedLogs)
	if err != nil {
		return err
	}
	if done {
		log.Printf("task %q already saved logs, skipping", m.tid)
		return nil
	}

	meta, err := m.Metadata()
	if err != nil {
		return fmt.Errorf("task %s: fetch metadata for logs: %w", m.tid, err)
	}
	logsDir := filepath.Join(m.dir, "logs")
	for _, j := range meta.Jobs {
		if j.Stdout != "" {
			if err := m.env.Transport.Copy(j.Stdout, filepath.Join(logsDir, j.ID+"-stdout")); err != nil {
				return fmt.Errorf("task %s: save stdout of %s: %w", m.tid, j.ID, err)
			}
		}
		if j.Stderr != "" {
			if err := m.env.Transport.Copy(j.Stderr, filepath.Join(logsDir, j.ID+"-stderr")); err != nil {
				return fmt.Errorf("task %s: save stderr of %s: %w", m.tid, j.ID, err)
			}
		}
	}
	return m.store.MarkCompleted(progress.StepSavedLogs)
}

// Metadata returns the engine's view decorated with task identity.
func (m *Manager) Metadata() (model.TaskMetadata, error) {
	etid, err := m.getEngineTID()
	if err != nil {
		return model.TaskMetadata{}, err
	}
	meta, err := m.env.Engine.Metadata(etid)
	if err != nil {
		return model.TaskMetadata{}, err
	}
	meta.TID = m.tid
	meta.Outdir = m.dir
	meta.EngineName = m.env.Engine.ID()
	if srv, ok := m.env.Engine.(*engine.Server); ok {
		meta.EngineURL = srv.URL()
	}
	return meta, nil
}

// Watch re-renders the metadata snapshot until the task is final.
func (m *Manager) Watch() error {
	for {
		meta, err := m.Metadata()
		if err != nil {
			return err
		}
		fmt.Fprintln(m.out, meta.Format())
		if meta.Status.IsFinal() {
			return nil
		}
		time.Sleep(m.pollInterval)
	}
}

// Abort terminates the task and force-sets the recorded status to aborted,
// independent of step completion flags.
func (m *Manager) Abort() error {
	etid, err := m.getEngineTID()
	if err != nil {
		return err
	}
	st, err := m.env.Engine.Terminate(etid)
	if serr := m.store.SetInfo(progress.InfoStatus, string(model.StatusAborted)); serr != nil && err == nil {
		err = serr
	}
	log.Printf("task %q terminate requested, engine reports %s", m.tid, st)
	return err
}

// getEngineTID lazily resolves the engine-native task id from the ledger.
func (m *Manager) getEngineTID() (string, error) {
	if m.engineTID != "" {
		return m.engineTID, nil
	}
	etid, err := m.store.GetInfo(progress.InfoEngineTID)
	if err != nil {
		return "", err
	}
	if etid == "" {
		return "", fmt.Errorf("task %s: no engine task id recorded", m.tid)
	}
	m.engineTID = etid
	return etid, nil
}

func (m *Manager) workflowDir() string { return filepath.Join(m.dir, "workflow") }

func createOutputTree(dir string) error {
	for _, sub := range taskSubdirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", sub, err)
		}
	}
	return nil
}
