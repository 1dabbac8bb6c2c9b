package task

import (
	"os"
	"path/filepath"
	"testing"

	"flowherd/pkg/model"
	"flowherd/pkg/transport"
)

func writeSource(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestScalarOutputAppendsExtension(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	src := writeSource(t, srcDir, "a.vcf")

	err := copyOutput(transport.Local{}, dstDir, "x", model.OutputValue{Location: src})
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "x.vcf")); err != nil {
		t.Fatalf("expected x.vcf: %v", err)
	}
}

func TestScalarOutputWithoutExtension(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	src := writeSource(t, srcDir, "report")

	if err := copyOutput(transport.Local{}, dstDir, "x", model.OutputValue{Location: src}); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "x")); err != nil {
		t.Fatalf("expected bare x: %v", err)
	}
}

func TestShardedOutputSuffixes(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	v := model.OutputValue{Shards: []model.OutputValue{
		{Location: writeSource(t, srcDir, "a.txt")},
		{Location: writeSource(t, srcDir, "b.txt")},
	}}

	if err := copyOutput(transport.Local{}, dstDir, "x", v); err != nil {
		t.Fatalf("copy: %v", err)
	}
	for _, want := range []string{"x-shard-0.txt", "x-shard-1.txt"} {
		if _, err := os.Stat(filepath.Join(dstDir, want)); err != nil {
			t.Fatalf("expected %s: %v", want, err)
		}
	}
}

func TestSecondaryFilesShareThePrimaryName(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	v := model.OutputValue{
		Location: writeSource(t, srcDir, "calls.bam"),
		Secondaries: []model.OutputValue{
			{Location: writeSource(t, srcDir, "calls.bai")},
		},
	}

	if err := copyOutput(transport.Local{}, dstDir, "aligned", v); err != nil {
		t.Fatalf("copy: %v", err)
	}
	for _, want := range []string{"aligned.bam", "aligned.bai"} {
		if _, err := os.Stat(filepath.Join(dstDir, want)); err != nil {
			t.Fatalf("expected %s: %v", want, err)
		}
	}
}

func TestUnrecognisedShapeIsFatal(t *testing.T) {
	err := copyOutput(transport.Local{}, t.TempDir(), "weird", model.OutputValue{})
	if err == nil {
		t.Fatal("empty value accepted")
	}
}

func TestExtensionOf(t *testing.T) {
	cases := []struct{ path, ext string }{
		{"/tmp/a.vcf", ".vcf"},
		{"/tmp/a.vcf.gz", ".vcf.gz"},
		{"/tmp/archive.tar.gz", ".tar.gz"},
		{"/tmp/reads.fastq.gz", ".fastq.gz"},
		{"/tmp/report", ""},
		{"/tmp/.hidden", ""},
	}
	for _, tc := range cases {
		if got := extensionOf(tc.path); got != tc.ext {
			t.Errorf("extensionOf(%q) = %q, want %q", tc.path, got, tc.ext)
		}
	}
}

func TestIsValidationOutput(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"wf.validated_calls", true},
		{"validated_calls", true},
		{"wf.calls", false},
		{"wf.validated", false},
	}
	for _, tc := range cases {
		if got := isValidationOutput(tc.name); got != tc.want {
			t.Errorf("isValidationOutput(%q) = %t", tc.name, got)
		}
	}
}
