package task

import (
	"fmt"
	"path/filepath"
	"strings"

	"flowherd/pkg/model"
	"flowherd/pkg/transport"
)

// compoundExtensions are treated as a single extension when deriving the
// destination filename.
var compoundExtensions = []string{".tar.gz", ".vcf.gz", ".fastq.gz", ".fq.gz"}

// copyOutput routes one engine output value into the destination directory:
// a scalar copies under the output name plus the source's extension, shards
// recurse with a -shard-<i> suffix, and secondary files copy under the same
// output name as the primary. Secondaries sharing the primary's name is kept
// as-is even though extensions differing only in case will collide.
func copyOutput(tr transport.Transport, dir, name string, v model.OutputValue) error {
	switch {
	case v.IsSharded():
		for i, shard := range v.Shards {
			if err := copyOutput(tr, dir, fmt.Sprintf("%s-shard-%d", name, i), shard); err != nil {
				return err
			}
		}
		return nil

	case v.Location != "":
		dst := filepath.Join(dir, name+extensionOf(v.Location))
		if err := tr.Copy(v.Location, dst); err != nil {
			return fmt.Errorf("output %q: %w", name, err)
		}
		for _, sec := range v.Secondaries {
			if err := copyOutput(tr, dir, name, sec); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("output %q: unrecognised output shape %+v", name, v)
	}
}

// extensionOf returns the source's extension including the leading dot, or
// "" when the basename has none.
func extensionOf(path string) string {
	base := filepath.Base(path)
	lower := strings.ToLower(base)
	for _, ext := range compoundExtensions {
		if strings.HasSuffix(lower, ext) {
			return base[len(base)-len(ext):]
		}
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		return base[i:]
	}
	return ""
}
