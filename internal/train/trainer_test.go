package train

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chesscoachd/internal/config"
	"chesscoachd/internal/model"
	"chesscoachd/internal/network"
	"chesscoachd/internal/store"
	"chesscoachd/pkg/types"
)

func testShapes() config.ModelConfig {
	return config.ModelConfig{InputPlanes: 1, PolicyPlanes: 1, CommentaryVocabSize: 64, CommentaryMaxLength: 8}
}

func newTestNetwork(t *testing.T, netType types.NetworkType) (*network.Network, *Trainer, *store.Paths) {
	t.Helper()
	shapes := testShapes()
	paths := store.NewPaths(filepath.Join(t.TempDir(), "networks"))
	cfg := network.Config{
		Log:                 zerolog.Nop(),
		Type:                netType,
		Builder:             model.NewReferenceBuilder(shapes, 8, 1),
		Name:                "network",
		Paths:               paths,
		Loader:              store.NewLoader(zerolog.Nop()),
		UpdateCheckInterval: time.Minute,
		TensorboardRoot:     filepath.Join(t.TempDir(), "tensorboard"),
		Shapes:              shapes,
		Guards:              network.NewGuards(1),
	}
	n := network.New(cfg)
	trainer := New(zerolog.Nop(), NewRandomSampler(shapes, 7), config.TrainingConfig{BatchSize: 4, ValidationInterval: 2})
	trainer.Bind(n)
	return n, trainer, paths
}

func TestTrainWritesLossAndCheckpoints(t *testing.T) {
	n, trainer, _ := newTestNetwork(t, types.Teacher)

	if err := trainer.Train(context.Background(), n, []string{"selfplay"}, nil, 5, true); err != nil {
		t.Fatalf("train: %v", err)
	}
	if got := n.Info().StepCount; got != 5 {
		t.Fatalf("expected checkpoint at step 5, got %d", got)
	}
	raw, err := os.ReadFile(n.TrainingWriter().Path())
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if !strings.Contains(string(raw), `"tag":"loss"`) {
		t.Fatalf("expected loss scalar in events, got %q", raw)
	}
}

func TestTrainWithoutCheckpointSavesNothing(t *testing.T) {
	n, trainer, _ := newTestNetwork(t, types.Student)

	if err := trainer.Train(context.Background(), n, []string{"selfplay"}, nil, 3, false); err != nil {
		t.Fatalf("train: %v", err)
	}
	if got := n.Info().StepCount; got != 0 {
		t.Fatalf("expected no checkpoint, got step %d", got)
	}
}

func TestTrainRejectsStaleTarget(t *testing.T) {
	n, trainer, _ := newTestNetwork(t, types.Teacher)

	if err := trainer.Train(context.Background(), n, nil, nil, 3, true); err != nil {
		t.Fatalf("train: %v", err)
	}
	if err := trainer.Train(context.Background(), n, nil, nil, 2, false); err == nil {
		t.Fatalf("expected error for target behind checkpoint")
	}
	if err := trainer.Train(context.Background(), n, nil, nil, 0, false); err == nil {
		t.Fatalf("expected error for non-positive target")
	}
}

func TestTrainStopsOnCancelledContext(t *testing.T) {
	n, trainer, _ := newTestNetwork(t, types.Teacher)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := trainer.Train(ctx, n, nil, nil, 5, false); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestTrainCommentaryCheckpoints(t *testing.T) {
	n, trainer, paths := newTestNetwork(t, types.Teacher)

	if err := trainer.TrainCommentary(context.Background(), n, 4, true); err != nil {
		t.Fatalf("train commentary: %v", err)
	}
	if got := n.Info().StepCount; got != 4 {
		t.Fatalf("expected checkpoint at step 4, got %d", got)
	}
	dir, err := paths.NetworkPath("network", 4)
	if err != nil {
		t.Fatalf("network path: %v", err)
	}
	if _, err := os.Stat(store.CommentaryDecoderPath(dir, types.Teacher)); err != nil {
		t.Fatalf("decoder weights not written: %v", err)
	}
	if _, err := os.Stat(store.CommentaryTokenizerPath(dir, types.Teacher)); err != nil {
		t.Fatalf("tokenizer sidecar not written: %v", err)
	}
}

func TestLogScalarsAppendsToValidationSink(t *testing.T) {
	n, trainer, _ := newTestNetwork(t, types.Teacher)

	if err := trainer.LogScalars(n, 7, []string{"arena_score"}, []float32{0.55}); err != nil {
		t.Fatalf("log scalars: %v", err)
	}
	raw, err := os.ReadFile(n.ValidationWriter().Path())
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if !strings.Contains(string(raw), `"tag":"arena_score"`) {
		t.Fatalf("expected arena_score scalar, got %q", raw)
	}

	if err := trainer.LogScalars(n, 7, []string{"a", "b"}, []float32{1}); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestRandomSamplerDeterministicShapes(t *testing.T) {
	shapes := testShapes()
	a, err := NewRandomSampler(shapes, 3).SampleBatch(nil, nil, 2)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	b, err := NewRandomSampler(shapes, 3).SampleBatch(nil, nil, 2)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(a.Images) != 2*shapes.InputSize() || len(a.Values) != 2 || len(a.Policies) != 2*shapes.PolicySize() {
		t.Fatalf("bad batch shapes: %d %d %d", len(a.Images), len(a.Values), len(a.Policies))
	}
	for i := range a.Images {
		if a.Images[i] != b.Images[i] {
			t.Fatalf("same seed diverged at image %d", i)
		}
	}
	if _, err := NewRandomSampler(shapes, 3).SampleBatch(nil, nil, 0); err == nil {
		t.Fatalf("expected error for empty batch")
	}
}
