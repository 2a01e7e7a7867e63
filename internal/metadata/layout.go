package metadata

import (
	"path/filepath"
	"strings"
)

// Layout maps a source file to its output locations under Root:
//
//	<root>/<base>/split/<base>_segment_NNN.ogg
//	<root>/<base>/<base>_transcripts.csv
//	<root>/silence_points/<base>_silence_points.json
//
// Runs of the same base serialize on <root>/<base>/.run.lock.
type Layout struct {
	Root string
}

// BaseName returns the source file name without directory and extension.
func BaseName(source string) string {
	name := filepath.Base(source)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// ClipDir returns the directory receiving the clips of base.
func (l Layout) ClipDir(base string) string {
	return filepath.Join(l.Root, base, "split")
}

// TablePath returns the clip table path of base.
func (l Layout) TablePath(base string) string {
	return filepath.Join(l.Root, base, base+"_transcripts.csv")
}

// SidecarPath returns the JSON sidecar path of base.
func (l Layout) SidecarPath(base string) string {
	return filepath.Join(l.Root, "silence_points", base+"_silence_points.json")
}

// RunLockPath returns the lock file held while a run writes the outputs of
// base.
func (l Layout) RunLockPath(base string) string {
	return filepath.Join(l.Root, base, ".run.lock")
}
