// Package dataset is the training-data collaborator: it counts training
// chunks for network info and densifies the compressed training
// encoding for debugging.
package dataset

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"chesscoachd/internal/config"
)

// Builder decodes the compressed training representation.
type Builder struct {
	shapes config.ModelConfig
}

// NewBuilder returns a Builder for the given tensor shapes.
func NewBuilder(shapes config.ModelConfig) *Builder {
	return &Builder{shapes: shapes}
}

// CountTrainingChunks walks root and counts chunk files. A missing root
// counts as zero chunks.
func CountTrainingChunks(root string) int {
	count := 0
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".chunk") {
			count++
		}
		return nil
	})
	return count
}

// Decompressed holds the densified tensors for one game record.
type Decompressed struct {
	Images        []float32
	Values        []float32
	Policies      []float32
	ReplyPolicies []float32
}

// Decompress rebuilds dense per-position tensors from one compressed
// game record. Positions are implied by the MCTS value count; policies
// arrive as per-position sparse (index, value) runs and are scattered
// into dense policy planes. The reply policy of a position is the dense
// policy of the following one, zero for the final position.
func (b *Builder) Decompress(result float32, imagePiecesAuxiliary, mctsValues []float32,
	policyRowLengths []int, policyIndices []int, policyValues []float32) (Decompressed, error) {

	positions := len(mctsValues)
	if positions == 0 {
		return Decompressed{}, fmt.Errorf("dataset: record has no positions")
	}
	if len(policyRowLengths) != positions {
		return Decompressed{}, fmt.Errorf("dataset: %d policy rows for %d positions", len(policyRowLengths), positions)
	}
	inputSize := b.shapes.InputSize()
	if len(imagePiecesAuxiliary) != positions*inputSize {
		return Decompressed{}, fmt.Errorf("dataset: expected %d image floats, got %d", positions*inputSize, len(imagePiecesAuxiliary))
	}
	total := 0
	for _, n := range policyRowLengths {
		if n < 0 {
			return Decompressed{}, fmt.Errorf("dataset: negative policy row length")
		}
		total += n
	}
	if len(policyIndices) != total || len(policyValues) != total {
		return Decompressed{}, fmt.Errorf("dataset: sparse policy length mismatch: %d rows vs %d indices, %d values",
			total, len(policyIndices), len(policyValues))
	}

	out := Decompressed{
		Images:        append([]float32(nil), imagePiecesAuxiliary...),
		Values:        make([]float32, positions),
		Policies:      make([]float32, positions*b.shapes.PolicySize()),
		ReplyPolicies: make([]float32, positions*b.shapes.PolicySize()),
	}

	// Value targets blend the search value with the final result, seen
	// from the side to move (alternating perspective each ply).
	for i := 0; i < positions; i++ {
		perspective := result
		if i%2 == 1 {
			perspective = -result
		}
		out.Values[i] = (mctsValues[i] + perspective) / 2
	}

	policySize := b.shapes.PolicySize()
	offset := 0
	for i := 0; i < positions; i++ {
		row := out.Policies[i*policySize : (i+1)*policySize]
		for j := 0; j < policyRowLengths[i]; j++ {
			idx := policyIndices[offset+j]
			if idx < 0 || idx >= policySize {
				return Decompressed{}, fmt.Errorf("dataset: policy index %d out of range [0,%d)", idx, policySize)
			}
			row[idx] = policyValues[offset+j]
		}
		offset += policyRowLengths[i]
	}

	for i := 0; i+1 < positions; i++ {
		copy(out.ReplyPolicies[i*policySize:(i+1)*policySize], out.Policies[(i+1)*policySize:(i+2)*policySize])
	}
	return out, nil
}
