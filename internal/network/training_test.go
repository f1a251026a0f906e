package network

import (
	"os"
	"path/filepath"
	"testing"

	"chesscoachd/internal/model"
	"chesscoachd/internal/store"
	"chesscoachd/pkg/types"
)

func TestEnsureTrainingIdempotent(t *testing.T) {
	h := newHarness(t, 1)
	n := h.network(t, types.Teacher)

	compiled := 0
	n.TrainingCompiler = func(model.Trainable) error { compiled++; return nil }

	first, err := n.EnsureTraining()
	if err != nil {
		t.Fatalf("ensure training: %v", err)
	}
	second, err := n.EnsureTraining()
	if err != nil {
		t.Fatalf("ensure training: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached training subset")
	}
	if compiled != 1 {
		t.Fatalf("expected compiler called once, got %d", compiled)
	}
	if got := h.builder.builds.Load(); got != 1 {
		t.Fatalf("expected 1 training-side full got %d", got)
	}
	if n.TrainingWriter() == nil || n.ValidationWriter() == nil {
		t.Fatalf("expected scalar sinks after EnsureTraining")
	}
}

func TestEnsureTrainingIndependentOfPredictionFull(t *testing.T) {
	h := newHarness(t, 1)
	n := h.network(t, types.Teacher)

	if _, _, err := n.EnsurePrediction(0); err != nil {
		t.Fatalf("ensure prediction: %v", err)
	}
	if _, err := n.EnsureTraining(); err != nil {
		t.Fatalf("ensure training: %v", err)
	}
	// Prediction-side and training-side fulls are separate objects.
	if got := h.builder.builds.Load(); got != 2 {
		t.Fatalf("expected independent training full, got %d builds", got)
	}
}

func TestEnsureCommentaryFresh(t *testing.T) {
	h := newHarness(t, 1)
	n := h.network(t, types.Teacher)

	if err := n.EnsureCommentary(); err != nil {
		t.Fatalf("ensure commentary: %v", err)
	}
	// Commentary shares the trained backbone: training must now exist.
	if n.modelsTrain.train == nil {
		t.Fatalf("expected training subset to be ensured first")
	}
	if n.modelsTrain.commentaryEncoder == nil || n.modelsTrain.commentaryDecoder == nil || n.modelsTrain.commentaryTokenizer == nil {
		t.Fatalf("expected commentary models created")
	}
	// Idempotent.
	if err := n.EnsureCommentary(); err != nil {
		t.Fatalf("ensure commentary: %v", err)
	}
	if got := h.builder.builds.Load(); got != 1 {
		t.Fatalf("expected single training full got %d", got)
	}
}

func TestEnsureCommentaryLoadsCheckpoint(t *testing.T) {
	h := newHarness(t, 1)
	dir := h.writeCheckpoint(t, "network", 5000, types.Teacher)

	// Decoder weights and tokenizer sidecar alongside the full weights.
	decoderPath := store.CommentaryDecoderPath(dir, types.Teacher)
	if err := os.MkdirAll(filepath.Dir(decoderPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(decoderPath, []byte("decoder"), 0o644); err != nil {
		t.Fatalf("write decoder: %v", err)
	}
	tok := model.NewTokenizer(64)
	tok.FitOnTexts([]string{"sharp attacking idea"})
	raw, err := tok.ToJSON()
	if err != nil {
		t.Fatalf("tokenizer json: %v", err)
	}
	if err := os.WriteFile(store.CommentaryTokenizerPath(dir, types.Teacher), raw, 0o644); err != nil {
		t.Fatalf("write tokenizer: %v", err)
	}

	n := h.network(t, types.Teacher)
	if err := n.EnsureCommentary(); err != nil {
		t.Fatalf("ensure commentary: %v", err)
	}
	dec, ok := n.modelsTrain.commentaryDecoder.(*fakeDecoder)
	if !ok {
		t.Fatalf("unexpected decoder type %T", n.modelsTrain.commentaryDecoder)
	}
	if dec.loadedPath != decoderPath {
		t.Fatalf("decoder loaded %q want %q", dec.loadedPath, decoderPath)
	}
	if n.modelsTrain.commentaryTokenizer.WordIndex("sharp") == 0 {
		t.Fatalf("tokenizer state not restored from sidecar")
	}
}

func TestPredictCommentaryBatchTrimsMarkers(t *testing.T) {
	h := newHarness(t, 1)
	tok := model.NewTokenizer(64)
	tok.FitOnTexts([]string{"good move"})
	h.builder.tokenizer = tok
	end := tok.WordIndex(model.TokenEnd)
	good := tok.WordIndex("good")
	move := tok.WordIndex("move")
	h.builder.decoderScript = []int{good, move, end}

	n := h.network(t, types.Teacher)
	images := make([]float32, h.builder.shapes.InputSize())
	comments, err := n.PredictCommentaryBatch(images, 1)
	if err != nil {
		t.Fatalf("commentary: %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("expected 1 comment got %d", len(comments))
	}
	if string(comments[0]) != "good move" {
		t.Fatalf("expected trimmed comment %q got %q", "good move", comments[0])
	}
}

func TestSaveWritesCheckpoint(t *testing.T) {
	h := newHarness(t, 1)
	n := h.network(t, types.Teacher)
	if _, err := n.EnsureTraining(); err != nil {
		t.Fatalf("ensure training: %v", err)
	}
	if err := n.Save(7000); err != nil {
		t.Fatalf("save: %v", err)
	}
	dir, _ := h.paths.NetworkPath("network", 7000)
	if _, err := os.Stat(store.ModelFullPath(dir, types.Teacher)); err != nil {
		t.Fatalf("full weights not written: %v", err)
	}
	// No commentary models in cache: no decoder or sidecar.
	if _, err := os.Stat(store.CommentaryDecoderPath(dir, types.Teacher)); !os.IsNotExist(err) {
		t.Fatalf("unexpected decoder checkpoint: %v", err)
	}

	// Now with commentary models ensured, both extra artifacts appear.
	if err := n.EnsureCommentary(); err != nil {
		t.Fatalf("ensure commentary: %v", err)
	}
	if err := n.Save(8000); err != nil {
		t.Fatalf("save: %v", err)
	}
	dir2, _ := h.paths.NetworkPath("network", 8000)
	if _, err := os.Stat(store.CommentaryDecoderPath(dir2, types.Teacher)); err != nil {
		t.Fatalf("decoder weights not written: %v", err)
	}
	raw, err := os.ReadFile(store.CommentaryTokenizerPath(dir2, types.Teacher))
	if err != nil {
		t.Fatalf("tokenizer sidecar not written: %v", err)
	}
	if _, err := model.TokenizerFromJSON(raw); err != nil {
		t.Fatalf("tokenizer sidecar not valid: %v", err)
	}
}

func TestSaveWithoutTrainingModelFails(t *testing.T) {
	h := newHarness(t, 1)
	n := h.network(t, types.Teacher)
	if err := n.Save(1); err == nil {
		t.Fatalf("expected error saving before EnsureTraining")
	}
}

func TestSaveStepOverflowFails(t *testing.T) {
	h := newHarness(t, 1)
	n := h.network(t, types.Teacher)
	if _, err := n.EnsureTraining(); err != nil {
		t.Fatalf("ensure training: %v", err)
	}
	if err := n.Save(1_000_000_000); err == nil {
		t.Fatalf("expected overflow rejection for 10-digit step")
	}
}

func TestSavedCheckpointVisibleToLatest(t *testing.T) {
	h := newHarness(t, 1)
	n := h.network(t, types.Teacher)
	if _, err := n.EnsureTraining(); err != nil {
		t.Fatalf("ensure training: %v", err)
	}
	if err := n.Save(9000); err != nil {
		t.Fatalf("save: %v", err)
	}
	info := n.Info()
	if info.StepCount != 9000 {
		t.Fatalf("expected step 9000 visible, got %d", info.StepCount)
	}
}
