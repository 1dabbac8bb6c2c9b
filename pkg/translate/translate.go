package translate

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"flowherd/pkg/container"
)

// Workflow is the engine-agnostic workflow handle handed to the orchestrator.
type Workflow struct {
	ID         string
	Source     string
	Inputs     map[string]any
	Containers []string
}

// Options control how a workflow is rendered to engine-native files.
type Options struct {
	WriteInputsFile       bool
	WithResourceOverrides bool
	MergeResources        bool
	Hints                 map[string]string
}

// Translator renders a workflow into the files an engine consumes and knows
// how those files are named.
type Translator interface {
	Translate(wf *Workflow, dir string, opts Options) error
	WorkflowFilename(wf *Workflow) string
	InputsFilename(wf *Workflow) string
	DependenciesFilename(wf *Workflow) string
}

// ShellTranslator renders a workflow as a plain shell script plus a JSON
// inputs file and a dependency manifest. When Digests is set, container
// references in the manifest are pinned to their registry digest.
type ShellTranslator struct {
	Digests container.Resolver
}

func (t ShellTranslator) WorkflowFilename(wf *Workflow) string     { return wf.ID + ".sh" }
func (t ShellTranslator) InputsFilename(wf *Workflow) string       { return wf.ID + ".inputs.json" }
func (t ShellTranslator) DependenciesFilename(wf *Workflow) string { return wf.ID + ".deps.json" }

func (t ShellTranslator) Translate(wf *Workflow, dir string, opts Options) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create workflow dir: %w", err)
	}

	var src strings.Builder
	src.WriteString("#!/bin/sh\n")
	for k, v := range opts.Hints {
		fmt.Fprintf(&src, "# hint: %s=%s\n", k, v)
	}
	src.WriteString(wf.Source)
	if !strings.HasSuffix(wf.Source, "\n") {
		src.WriteString("\n")
	}
	if err := os.WriteFile(filepath.Join(dir, t.WorkflowFilename(wf)), []byte(src.String()), 0o755); err != nil {
		return fmt.Errorf("write workflow source: %w", err)
	}

	if opts.WriteInputsFile {
		inputs := wf.Inputs
		if inputs == nil {
			inputs = map[string]any{}
		}
		if opts.WithResourceOverrides {
			inputs = mergeInputs(inputs, resourceOverrides(opts))
		}
		b, err := json.MarshalIndent(inputs, "", "  ")
		if err != nil {
			return fmt.Errorf("encode inputs: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, t.InputsFilename(wf)), b, 0o644); err != nil {
			return fmt.Errorf("write inputs: %w", err)
		}
	}

	deps := map[string]string{}
	for _, ref := range wf.Containers {
		deps[ref] = ""
		if t.Digests != nil {
			digest, err := t.Digests.Digest(ref)
			if err != nil {
				// Pinning is best effort; an unpinned entry still records the dependency.
				log.Printf("digest lookup failed for %s: %v", ref, err)
				continue
			}
			deps[ref] = digest
		}
	}
	b, err := json.MarshalIndent(map[string]any{"containers": deps}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dependencies: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, t.DependenciesFilename(wf)), b, 0o644); err != nil {
		return fmt.Errorf("write dependencies: %w", err)
	}
	return nil
}

func resourceOverrides(opts Options) map[string]any {
	res := map[string]any{}
	for k, v := range opts.Hints {
		if k == "cores" || k == "memory" || k == "queue" {
			res[k] = v
		}
	}
	if len(res) == 0 {
		return nil
	}
	return map[string]any{"_resources": res}
}

func mergeInputs(base, extra map[string]any) map[string]any {
	if extra == nil {
		return base
	}
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
