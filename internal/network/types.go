package network

import (
	"sync"
	"time"

	"chesscoachd/internal/model"
)

// PredictionModels holds the per-device serving cache for one network:
// the owning full model plus the derived prediction view. The predict
// subset is never constructed before full.
type PredictionModels struct {
	full model.Full
	// Identity of the currently loaded checkpoint weights. Paths for
	// the same name and type are identical up to the zero-padded step,
	// so lexicographically greater means more recent; "" means freshly
	// initialized, never checkpointed, and compares less than any path.
	fullWeightsPath      string
	fullWeightsLastCheck time.Time
	predict              model.Predictor
}

// TrainingModels holds the training-side cache for one network. The
// full model here is independent of every prediction-side full model.
// The commentary encoder shares the trained backbone, so it requires
// train to already exist.
type TrainingModels struct {
	full                model.Full
	train               model.Trainable
	commentaryEncoder   model.Encoder
	commentaryDecoder   model.Decoder
	commentaryTokenizer *model.Tokenizer
}

// Guards are the two lock scopes shared by both networks: a per-device
// ensure lock serializing each device's get-or-create path, and one
// global creation lock bounding model materialization to one at a time
// process-wide, so concurrent cold starts cannot spike resource usage.
type Guards struct {
	ensure   []sync.Mutex
	creation sync.Mutex
}

// NewGuards sizes the ensure locks to the device count.
func NewGuards(deviceCount int) *Guards {
	return &Guards{ensure: make([]sync.Mutex, deviceCount)}
}

// DeviceCount returns the number of per-device ensure locks.
func (g *Guards) DeviceCount() int { return len(g.ensure) }
