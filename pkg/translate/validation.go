package translate

import (
	"fmt"
	"strings"
)

// ValidationRequirements describe how a workflow's variant-call outputs are
// checked against a truth set.
type ValidationRequirements struct {
	Truth     string
	Reference string
	Intervals string
	// Fields are the output names to validate.
	Fields []string
}

// ValidatedPrefix marks outputs produced by the validation wrapper; staging
// routes outputs whose name suffix carries it into the validation directory.
const ValidatedPrefix = "validated_"

// WrapForValidation produces the validation-wrapped variant of a workflow.
// The original workflow stays untouched; the wrapped variant runs it and then
// compares each requested output field against the truth set, emitting
// outputs named <id>.validated_<field>.
func WrapForValidation(wf *Workflow, reqs ValidationRequirements) *Workflow {
	var src strings.Builder
	src.WriteString(wf.Source)
	if !strings.HasSuffix(wf.Source, "\n") {
		src.WriteString("\n")
	}
	for _, field := range reqs.Fields {
		fmt.Fprintf(&src, "compare_to_truth --field %s --truth %s --reference %s", field, reqs.Truth, reqs.Reference)
		if reqs.Intervals != "" {
			fmt.Fprintf(&src, " --intervals %s", reqs.Intervals)
		}
		fmt.Fprintf(&src, " --output-name %s.%s%s\n", wf.ID, ValidatedPrefix, field)
	}

	inputs := mergeInputs(wf.Inputs, map[string]any{
		"validation_truth":     reqs.Truth,
		"validation_reference": reqs.Reference,
	})

	return &Workflow{
		ID:         ValidatedPrefix + wf.ID,
		Source:     src.String(),
		Inputs:     inputs,
		Containers: wf.Containers,
	}
}
