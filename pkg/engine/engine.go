package engine

import (
	"encoding/json"
	"errors"

	"flowherd/pkg/model"
)

// Engine drives one workflow execution backend through a uniform lifecycle.
// The orchestrator never branches on the concrete variant; the progress
// ledger, not the engine, guarantees Start is called at most once per task.
type Engine interface {
	ID() string

	// Start submits the prepared files and returns the engine-native task id.
	Start(wid, workflowPath, inputsPath, depsPath string) (string, error)

	// PollStatus is a non-blocking snapshot of the latest known status,
	// defaulting to processing when the engine knows nothing yet.
	PollStatus(tid string) (model.TaskStatus, error)

	// Metadata must return a value, not fail, for an in-progress task.
	Metadata(tid string) (model.TaskMetadata, error)

	// Outputs is only meaningful once the task completed; engines return an
	// empty mapping when nothing was produced.
	Outputs(tid string) (map[string]model.OutputValue, error)

	// Terminate is best-effort cancellation. Terminating an already-final
	// task is a no-op returning the existing final status; otherwise the
	// status settles to aborted even if the underlying stop action fails.
	Terminate(tid string) (model.TaskStatus, error)

	// RawMetadata returns the engine's full metadata dump verbatim, used
	// only for archival, never for orchestration decisions.
	RawMetadata(tid string) (json.RawMessage, error)
}

// ErrRawMetadataUnsupported is returned by engines that have no archival
// metadata dump. The save-metadata step fails loudly on it rather than
// leaving a silent gap in the archived record.
var ErrRawMetadataUnsupported = errors.New("engine does not support raw metadata archival")

// UnsupportedRawMetadata is the default RawMetadata implementation for
// engine variants without an archival dump.
type UnsupportedRawMetadata struct{}

func (UnsupportedRawMetadata) RawMetadata(string) (json.RawMessage, error) {
	return nil, ErrRawMetadataUnsupported
}
