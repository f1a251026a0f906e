package coach

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"chesscoachd/internal/config"
	"chesscoachd/pkg/types"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.NetworksDir = filepath.Join(t.TempDir(), "networks")
	cfg.TensorboardDir = filepath.Join(t.TempDir(), "tensorboard")
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.DeviceCount = 2
	cfg.UpdateCheckIntervalSeconds = 3600
	cfg.Model = config.ModelConfig{InputPlanes: 1, PolicyPlanes: 1, CommentaryVocabSize: 64, CommentaryMaxLength: 4}
	cfg.Training = config.TrainingConfig{BatchSize: 4, ValidationInterval: 2}
	return cfg
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := New(testConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return s
}

func TestServicePredictBatch(t *testing.T) {
	s := newTestService(t)
	images := make([]float32, 2*s.cfg.Model.InputSize())

	for _, netType := range []types.NetworkType{types.Teacher, types.Student} {
		status, values, policies, err := s.PredictBatch(netType, 1, images, 2)
		if err != nil {
			t.Fatalf("predict %s: %v", netType, err)
		}
		if status != types.StatusNothing {
			t.Fatalf("expected StatusNothing got %v", status)
		}
		if len(values) != 2 || len(policies) != 2*s.cfg.Model.PolicySize() {
			t.Fatalf("bad output shapes: %d %d", len(values), len(policies))
		}
	}
}

func TestServicePredictRejectsBadBatch(t *testing.T) {
	s := newTestService(t)
	if _, _, _, err := s.PredictBatch(types.Teacher, 1, make([]float32, 3), 2); err == nil {
		t.Fatalf("expected shape mismatch error")
	}
	if _, _, _, err := s.PredictBatch(types.Teacher, 1, nil, 0); err == nil {
		t.Fatalf("expected empty batch error")
	}
	if _, _, _, err := s.PredictBatch("referee", 1, nil, 1); err == nil {
		t.Fatalf("expected unknown type error")
	}
}

func TestServiceTrainAndInfo(t *testing.T) {
	s := newTestService(t)
	if err := s.Train(context.Background(), types.Teacher, []string{"selfplay"}, nil, 3, true); err != nil {
		t.Fatalf("train: %v", err)
	}
	info, err := s.NetworkInfo(types.Teacher)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.StepCount != 3 {
		t.Fatalf("expected teacher at step 3, got %d", info.StepCount)
	}
	// The student shares the name but has its own checkpoints.
	info, err = s.NetworkInfo(types.Student)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.StepCount != 0 {
		t.Fatalf("expected untrained student, got step %d", info.StepCount)
	}
}

func TestServiceLoadNetworkResetsToNewFamily(t *testing.T) {
	s := newTestService(t)
	if err := s.Train(context.Background(), types.Teacher, nil, nil, 3, true); err != nil {
		t.Fatalf("train: %v", err)
	}
	if err := s.LoadNetwork("candidate"); err != nil {
		t.Fatalf("load network: %v", err)
	}
	info, err := s.NetworkInfo(types.Teacher)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.StepCount != 0 {
		t.Fatalf("expected fresh family, got step %d", info.StepCount)
	}
	if err := s.LoadNetwork(""); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestServiceSaveNetworkRequiresTraining(t *testing.T) {
	s := newTestService(t)
	if err := s.SaveNetwork(types.Teacher, 5); err == nil {
		t.Fatalf("expected error saving before training")
	}
	if err := s.Train(context.Background(), types.Teacher, nil, nil, 2, false); err != nil {
		t.Fatalf("train: %v", err)
	}
	if err := s.SaveNetwork(types.Teacher, 5); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, _ := s.NetworkInfo(types.Teacher)
	if info.StepCount != 5 {
		t.Fatalf("expected step 5, got %d", info.StepCount)
	}
}

func TestServiceCommentary(t *testing.T) {
	s := newTestService(t)
	images := make([]float32, s.cfg.Model.InputSize())
	comments, err := s.PredictCommentaryBatch(images, 1)
	if err != nil {
		t.Fatalf("commentary: %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("expected 1 comment got %d", len(comments))
	}
}

func TestServiceSaveFile(t *testing.T) {
	s := newTestService(t)
	if err := s.SaveFile("strengths/arena.json", []byte(`{"elo":1500}`)); err != nil {
		t.Fatalf("save file: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(s.dataDir, "strengths", "arena.json"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(raw) != `{"elo":1500}` {
		t.Fatalf("unexpected contents %q", raw)
	}
	if err := s.SaveFile("../escape", []byte("x")); err == nil {
		t.Fatalf("expected traversal rejection")
	}
}

func TestServiceDebugDecompress(t *testing.T) {
	s := newTestService(t)
	req := types.DecompressRequest{
		Result:               1,
		ImagePiecesAuxiliary: make([]float32, 2*s.cfg.Model.InputSize()),
		MCTSValues:           []float32{0.5, -0.5},
		PolicyRowLengths:     []int{1, 1},
		PolicyIndices:        []int{0, 3},
		PolicyValues:         []float32{1, 1},
	}
	resp, err := s.DebugDecompress(req)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if len(resp.Policies) != 2*s.cfg.Model.PolicySize() {
		t.Fatalf("bad policy shape %d", len(resp.Policies))
	}
	if resp.Values[0] != 0.75 {
		t.Fatalf("expected blended value 0.75, got %v", resp.Values[0])
	}
}

func TestServiceLogScalars(t *testing.T) {
	s := newTestService(t)
	if err := s.LogScalars(types.Student, 10, []string{"arena_score"}, []float32{0.4}); err != nil {
		t.Fatalf("log scalars: %v", err)
	}
	if err := s.LogScalars(types.Student, 10, []string{"a"}, nil); err == nil {
		t.Fatalf("expected mismatch error")
	}
}
