package progress

import "fmt"

// Step identifies one orchestration step in the per-task ledger. A step is
// marked completed only after its side effect has durably finished, and a
// completed step is never re-executed by a later run against the same task
// directory.
type Step string

const (
	StepSavedWorkflow     Step = "saved-workflow"
	StepSubmittedWorkflow Step = "submitted-workflow"
	StepReachedFinalState Step = "reached-final-state"
	StepSavedMetadata     Step = "saved-metadata"
	StepCopiedOutputs     Step = "copied-outputs"
	StepSavedLogs         Step = "saved-logs"
)

// Steps lists every step in the order the orchestrator performs them.
func Steps() []Step {
	return []Step{
		StepSavedWorkflow,
		StepSubmittedWorkflow,
		StepReachedFinalState,
		StepSavedMetadata,
		StepCopiedOutputs,
		StepSavedLogs,
	}
}

// InfoKey identifies an informational value stored alongside step flags.
type InfoKey string

const (
	InfoTaskID      InfoKey = "tid"
	InfoEngine      InfoKey = "engine"
	InfoEngineTID   InfoKey = "engine-tid"
	InfoEnvironment InfoKey = "environment"
	InfoValidating  InfoKey = "validating"
	InfoStatus      InfoKey = "status"
	InfoError       InfoKey = "error"
)

// Store is the durable per-task progress ledger. One orchestrator process is
// the single writer for a given task directory; that precondition is assumed,
// not enforced.
type Store interface {
	HasCompleted(step Step) (bool, error)
	// MarkCompleted is an idempotent set-true.
	MarkCompleted(step Step) error
	SetInfo(key InfoKey, value string) error
	// GetInfo returns "" for an absent key.
	GetInfo(key InfoKey) (string, error)
	Close() error
}

// Validate checks the monotonic ordering invariant: a completed step may not
// follow an incomplete one. A record violating it is corrupt and must not be
// resumed.
func Validate(s Store) error {
	var firstIncomplete Step
	for _, step := range Steps() {
		done, err := s.HasCompleted(step)
		if err != nil {
			return err
		}
		if done && firstIncomplete != "" {
			return fmt.Errorf("corrupt progress record: step %q completed but earlier step %q is not", step, firstIncomplete)
		}
		if !done && firstIncomplete == "" {
			firstIncomplete = step
		}
	}
	return nil
}
