// Package train drives the training loop for one network: it ensures
// the training-side models, feeds batches to the trainable subset,
// streams loss scalars to the network's event sinks and checkpoints at
// the requested steps. Optimization internals live behind the model
// interfaces; this package only orchestrates.
package train

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"chesscoachd/internal/config"
	"chesscoachd/internal/model"
	"chesscoachd/internal/network"
	"chesscoachd/pkg/types"
)

// Batch is one packed training batch: images with their value and
// policy targets, all flat row-major.
type Batch struct {
	Images   []float32
	Values   []float32
	Policies []float32
	Size     int
}

// Sampler supplies training batches drawn from the requested game types
// and step windows.
type Sampler interface {
	SampleBatch(gameTypes []string, windows []types.Window, batchSize int) (Batch, error)
}

// randomSampler draws deterministic pseudo-random batches shaped to the
// model configuration. It stands in when no game-data pipeline is
// attached to the daemon.
type randomSampler struct {
	mu     sync.Mutex
	rng    *rand.Rand
	shapes config.ModelConfig
}

// NewRandomSampler returns a Sampler producing seeded synthetic batches.
func NewRandomSampler(shapes config.ModelConfig, seed int64) Sampler {
	return &randomSampler{rng: rand.New(rand.NewSource(seed)), shapes: shapes}
}

func (s *randomSampler) SampleBatch(gameTypes []string, windows []types.Window, batchSize int) (Batch, error) {
	if batchSize <= 0 {
		return Batch{}, fmt.Errorf("train: batch size %d", batchSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b := Batch{
		Images:   make([]float32, batchSize*s.shapes.InputSize()),
		Values:   make([]float32, batchSize),
		Policies: make([]float32, batchSize*s.shapes.PolicySize()),
		Size:     batchSize,
	}
	for i := range b.Images {
		b.Images[i] = s.rng.Float32()
	}
	for i := range b.Values {
		b.Values[i] = s.rng.Float32()*2 - 1
	}
	policySize := s.shapes.PolicySize()
	for i := 0; i < batchSize; i++ {
		b.Policies[i*policySize+s.rng.Intn(policySize)] = 1
	}
	return b, nil
}

// Trainer runs training for networks it is bound to. It is the single
// training writer: exactly one Train, TrainCommentary or LogScalars
// call may be in flight per network at a time.
type Trainer struct {
	log         zerolog.Logger
	sampler     Sampler
	batchSize   int
	logInterval int
}

// New constructs a Trainer drawing batches from sampler.
func New(log zerolog.Logger, sampler Sampler, cfg config.TrainingConfig) *Trainer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.ValidationInterval <= 0 {
		cfg.ValidationInterval = 100
	}
	return &Trainer{
		log:         log.With().Str("component", "trainer").Logger(),
		sampler:     sampler,
		batchSize:   cfg.BatchSize,
		logInterval: cfg.ValidationInterval,
	}
}

// Bind installs the training compiler on a network. Must run before the
// network's first EnsureTraining.
func (t *Trainer) Bind(n *network.Network) {
	netType := n.Type()
	n.TrainingCompiler = func(model.Trainable) error {
		t.log.Info().Str("network", string(netType)).Msg("compiling training model")
		return nil
	}
}

// Train advances the network from its latest checkpoint step to the
// target step, one batch per step, then checkpoints when asked. The
// loss scalar is written every logInterval steps and at the final step.
func (t *Trainer) Train(ctx context.Context, n *network.Network, gameTypes []string, windows []types.Window, step int, checkpoint bool) error {
	if step <= 0 {
		return fmt.Errorf("train: target step %d", step)
	}
	start := n.Info().StepCount + 1
	if step < start {
		return fmt.Errorf("train: target step %d behind checkpoint step %d", step, start-1)
	}

	trainable, err := n.EnsureTraining()
	if err != nil {
		return err
	}

	t.log.Info().Str("network", string(n.Type())).Int("from", start).Int("to", step).Msg("training")
	for s := start; s <= step; s++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := t.sampler.SampleBatch(gameTypes, windows, t.batchSize)
		if err != nil {
			return err
		}
		loss, err := trainable.TrainBatch(batch.Images, batch.Size, batch.Values, batch.Policies)
		if err != nil {
			return fmt.Errorf("train: step %d: %w", s, err)
		}
		trainBatches.WithLabelValues(string(n.Type())).Inc()
		if s%t.logInterval == 0 || s == step {
			if err := n.TrainingWriter().Scalar(s, "loss", loss); err != nil {
				return err
			}
		}
	}
	if err := n.TrainingWriter().Flush(); err != nil {
		return err
	}

	if !checkpoint {
		return nil
	}
	if err := n.Save(step); err != nil {
		return err
	}
	trainCheckpoints.WithLabelValues(string(n.Type())).Inc()
	return nil
}

// TrainCommentary ensures the commentary models exist on the network
// and checkpoints them at the target step when asked. Decoder
// optimization happens behind the model interfaces; nothing here
// iterates batches.
func (t *Trainer) TrainCommentary(ctx context.Context, n *network.Network, step int, checkpoint bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if step <= 0 {
		return fmt.Errorf("train: target step %d", step)
	}
	if err := n.EnsureCommentary(); err != nil {
		return err
	}
	if !checkpoint {
		return nil
	}
	if err := n.Save(step); err != nil {
		return err
	}
	trainCheckpoints.WithLabelValues(string(n.Type())).Inc()
	return nil
}

// LogScalars appends externally computed scalars (arena results,
// evaluation sweeps) to the network's validation sink.
func (t *Trainer) LogScalars(n *network.Network, step int, names []string, values []float32) error {
	if len(names) != len(values) {
		return fmt.Errorf("train: %d names for %d values", len(names), len(values))
	}
	if _, err := n.EnsureTraining(); err != nil {
		return err
	}
	w := n.ValidationWriter()
	for i, name := range names {
		if err := w.Scalar(step, name, values[i]); err != nil {
			return err
		}
	}
	return w.Flush()
}
