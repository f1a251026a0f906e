// Package model defines the narrow interfaces through which the network
// lifecycle layer drives a machine-learning backend, plus the two
// backends shipped with the daemon: a deterministic in-process reference
// implementation and an ONNX Runtime binding.
//
// Tensors cross these interfaces as flat row-major float32 slices:
// images are batch_size * input_planes * 64, values are batch_size,
// policies are batch_size * policy_planes * 64.
package model

import "errors"

// ErrCommentaryUnsupported is returned by backends that cannot derive
// commentary models from their backbone.
var ErrCommentaryUnsupported = errors.New("model: commentary not supported by this backend")

// Checkpointed is the minimal surface the weight store needs: a single
// load or save attempt against a concrete path. Retry policy lives in
// the store, not here.
type Checkpointed interface {
	LoadWeights(path string) error
	SaveWeights(path string) error
}

// Full is a complete network: the owning source of truth for parameters.
// Subset views derived from it share those parameters and are invalidated
// together with it.
type Full interface {
	Checkpointed
	Close() error
}

// Predictor is an inference-only view of a full model.
type Predictor interface {
	Predict(images []float32, batchSize int) (values []float32, policies []float32, err error)
}

// Trainable is a training-only view of a full model.
type Trainable interface {
	Predictor
	TrainBatch(images []float32, batchSize int, valueTargets []float32, policyTargets []float32) (loss float32, err error)
}

// Compiler wires optimizer and loss into a freshly derived training
// subset. Supplied by the training collaborator.
type Compiler func(Trainable) error

// Encoder maps a batch of positions onto per-position memory vectors for
// the commentary decoder, sharing the trained backbone.
type Encoder interface {
	Encode(images []float32, batchSize int) (memory [][]float32, err error)
}

// Decoder produces next-token logits given encoder memory and the tokens
// generated so far.
type Decoder interface {
	Checkpointed
	Step(memory []float32, tokens []int) (logits []float32, err error)
}

// Builder constructs full models and derives subset views from them.
// One builder exists per network type; its internals (architecture,
// layer counts, filter widths) are not this module's concern.
type Builder interface {
	// Build constructs a freshly initialized full model with no weights
	// loaded.
	Build() (Full, error)
	// SubsetPredict derives the prediction view. The full model must
	// already exist.
	SubsetPredict(full Full) (Predictor, error)
	// SubsetTrain derives the training view. The full model must already
	// exist.
	SubsetTrain(full Full) (Trainable, error)
	// SubsetCommentaryEncoder derives the commentary encoder from a
	// training-side full model.
	SubsetCommentaryEncoder(full Full) (Encoder, error)
	// BuildCommentaryDecoder constructs a fresh commentary decoder.
	BuildCommentaryDecoder() (Decoder, error)
	// BuildTokenizer constructs a fresh commentary tokenizer.
	BuildTokenizer() (*Tokenizer, error)
}
