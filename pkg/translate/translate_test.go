package translate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fixedResolver map[string]string

func (f fixedResolver) Digest(ref string) (string, error) { return f[ref], nil }

func TestShellTranslateWritesFiles(t *testing.T) {
	dir := t.TempDir()
	wf := &Workflow{
		ID:         "align",
		Source:     "bwa mem ref.fa reads.fq > out.sam",
		Inputs:     map[string]any{"reads": "/data/reads.fq"},
		Containers: []string{"biocontainers/bwa:0.7.17"},
	}
	tr := ShellTranslator{Digests: fixedResolver{"biocontainers/bwa:0.7.17": "sha256:abc"}}

	if err := tr.Translate(wf, dir, Options{WriteInputsFile: true}); err != nil {
		t.Fatalf("translate: %v", err)
	}

	src, err := os.ReadFile(filepath.Join(dir, "align.sh"))
	if err != nil {
		t.Fatalf("read workflow file: %v", err)
	}
	if !strings.HasPrefix(string(src), "#!/bin/sh\n") {
		t.Fatalf("missing shebang: %q", src)
	}
	if !strings.Contains(string(src), "bwa mem") {
		t.Fatalf("workflow body missing: %q", src)
	}

	var inputs map[string]any
	b, err := os.ReadFile(filepath.Join(dir, "align.inputs.json"))
	if err != nil {
		t.Fatalf("read inputs file: %v", err)
	}
	if err := json.Unmarshal(b, &inputs); err != nil {
		t.Fatalf("decode inputs: %v", err)
	}
	if inputs["reads"] != "/data/reads.fq" {
		t.Fatalf("inputs round-trip: %v", inputs)
	}

	var deps struct {
		Containers map[string]string `json:"containers"`
	}
	b, err = os.ReadFile(filepath.Join(dir, "align.deps.json"))
	if err != nil {
		t.Fatalf("read deps file: %v", err)
	}
	if err := json.Unmarshal(b, &deps); err != nil {
		t.Fatalf("decode deps: %v", err)
	}
	if deps.Containers["biocontainers/bwa:0.7.17"] != "sha256:abc" {
		t.Fatalf("container not pinned: %v", deps.Containers)
	}
}

func TestWrapForValidation(t *testing.T) {
	wf := &Workflow{ID: "calls", Source: "run_caller"}
	wrapped := WrapForValidation(wf, ValidationRequirements{
		Truth:     "/truth.vcf",
		Reference: "/ref.fa",
		Fields:    []string{"vcf"},
	})

	if wrapped.ID != "validated_calls" {
		t.Fatalf("wrapped id = %q", wrapped.ID)
	}
	if !strings.Contains(wrapped.Source, "run_caller") {
		t.Fatal("wrapped variant must still run the original workflow")
	}
	if !strings.Contains(wrapped.Source, "--output-name calls.validated_vcf") {
		t.Fatalf("validation output name missing: %q", wrapped.Source)
	}
	// The original handle is untouched.
	if wf.ID != "calls" || strings.Contains(wf.Source, "compare_to_truth") {
		t.Fatal("original workflow mutated")
	}
}
