package progress

import (
	"testing"
)

func TestMarkCompletedIsIdempotent(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	done, err := s.HasCompleted(StepSavedWorkflow)
	if err != nil {
		t.Fatalf("has completed: %v", err)
	}
	if done {
		t.Fatal("fresh store reports step completed")
	}

	for i := 0; i < 3; i++ {
		if err := s.MarkCompleted(StepSavedWorkflow); err != nil {
			t.Fatalf("mark completed (attempt %d): %v", i, err)
		}
	}
	done, err = s.HasCompleted(StepSavedWorkflow)
	if err != nil {
		t.Fatalf("has completed: %v", err)
	}
	if !done {
		t.Fatal("step not completed after mark")
	}
}

func TestInfoRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	if v, err := s.GetInfo(InfoEngineTID); err != nil || v != "" {
		t.Fatalf("absent key: got %q, %v", v, err)
	}
	if err := s.SetInfo(InfoEngineTID, "engine-123"); err != nil {
		t.Fatalf("set info: %v", err)
	}
	if err := s.SetInfo(InfoEngineTID, "engine-456"); err != nil {
		t.Fatalf("overwrite info: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopening the same directory must yield the persisted value.
	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer s2.Close()
	v, err := s2.GetInfo(InfoEngineTID)
	if err != nil {
		t.Fatalf("get info: %v", err)
	}
	if v != "engine-456" {
		t.Fatalf("got %q, want engine-456", v)
	}
}

func TestValidateOrderingInvariant(t *testing.T) {
	cases := []struct {
		name    string
		steps   []Step
		corrupt bool
	}{
		{"empty", nil, false},
		{"prefix", []Step{StepSavedWorkflow, StepSubmittedWorkflow}, false},
		{"all", Steps(), false},
		{"outputs before submit", []Step{StepSavedWorkflow, StepCopiedOutputs}, true},
		{"final state only", []Step{StepReachedFinalState}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Open(t.TempDir())
			if err != nil {
				t.Fatalf("open store: %v", err)
			}
			defer s.Close()
			for _, step := range tc.steps {
				if err := s.MarkCompleted(step); err != nil {
					t.Fatalf("mark %s: %v", step, err)
				}
			}
			err = Validate(s)
			if tc.corrupt && err == nil {
				t.Fatal("corrupt record passed validation")
			}
			if !tc.corrupt && err != nil {
				t.Fatalf("valid record rejected: %v", err)
			}
		})
	}
}
