// Package store owns the on-disk checkpoint layout and the
// retry-capable loading and saving of model weight sets.
//
// Layout: {root}/{name}_{step:09d}/{teacher|student}/model/weights,
// .../commentary_decoder/weights and .../commentary_tokenizer.json.
// The zero-padded step makes directory names sort lexicographically in
// step order, so "latest" is the string max.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"chesscoachd/pkg/types"
)

// stepPadWidth is the zero-pad width for steps in directory names.
// Lexicographic comparison of checkpoint paths is only correct while
// steps fit in this width, so FormatStep rejects anything wider.
const stepPadWidth = 9

var trailingDigits = regexp.MustCompile(`([0-9]+)$`)

// FormatStep renders a training step for use in a checkpoint directory
// name.
func FormatStep(step int) (string, error) {
	if step < 0 {
		return "", fmt.Errorf("store: negative step %d", step)
	}
	s := strconv.Itoa(step)
	if len(s) > stepPadWidth {
		return "", fmt.Errorf("store: step %d exceeds %d-digit checkpoint naming", step, stepPadWidth)
	}
	return strings.Repeat("0", stepPadWidth-len(s)) + s, nil
}

// Paths resolves checkpoint locations under a fixed networks root.
type Paths struct {
	root string
}

// NewPaths returns a resolver rooted at root.
func NewPaths(root string) *Paths { return &Paths{root: root} }

// Root returns the networks root directory.
func (p *Paths) Root() string { return p.root }

// NetworkPath returns the checkpoint directory for name at step.
func (p *Paths) NetworkPath(name string, step int) (string, error) {
	padded, err := FormatStep(step)
	if err != nil {
		return "", err
	}
	return filepath.Join(p.root, name+"_"+padded), nil
}

// LatestNetworkPath returns the most recent checkpoint directory for
// name that contains a subtree for networkType, or "" if none exists.
// A missing root directory means no checkpoints, not an error.
func (p *Paths) LatestNetworkPath(name string, networkType types.NetworkType) string {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return ""
	}
	prefix := name + "_"
	var latest string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := e.Name()
		if !strings.HasPrefix(dir, prefix) {
			continue
		}
		suffix := strings.TrimPrefix(dir, prefix)
		if len(suffix) != stepPadWidth || !allDigits(suffix) {
			continue
		}
		if _, err := os.Stat(filepath.Join(p.root, dir, string(networkType))); err != nil {
			continue
		}
		if dir > latest {
			latest = dir
		}
	}
	if latest == "" {
		return ""
	}
	return filepath.Join(p.root, latest)
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// StepFromPath parses the training step from a checkpoint directory
// path, returning 0 for an empty path.
func StepFromPath(networkPath string) int {
	if networkPath == "" {
		return 0
	}
	m := trailingDigits.FindString(filepath.Base(networkPath))
	if m == "" {
		return 0
	}
	step, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return step
}

// LogName returns the human-readable checkpoint name for log lines.
func LogName(networkPath string) string {
	return filepath.Base(filepath.Clean(networkPath))
}

// ModelFullPath returns the full-model weights path inside a checkpoint
// directory.
func ModelFullPath(networkPath string, networkType types.NetworkType) string {
	return filepath.Join(networkPath, string(networkType), "model", "weights")
}

// CommentaryDecoderPath returns the decoder weights path inside a
// checkpoint directory.
func CommentaryDecoderPath(networkPath string, networkType types.NetworkType) string {
	return filepath.Join(networkPath, string(networkType), "commentary_decoder", "weights")
}

// CommentaryTokenizerPath returns the tokenizer sidecar path inside a
// checkpoint directory.
func CommentaryTokenizerPath(networkPath string, networkType types.NetworkType) string {
	return filepath.Join(networkPath, string(networkType), "commentary_tokenizer.json")
}
