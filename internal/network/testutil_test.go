package network

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chesscoachd/internal/config"
	"chesscoachd/internal/model"
	"chesscoachd/internal/store"
	"chesscoachd/pkg/types"
)

// fakeClock advances only when told to, so interval throttling and the
// retry loop run without real time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) { c.Advance(d) }

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeFull records weight loads and saves; loads succeed unless failLoad
// is set.
type fakeFull struct {
	mu         sync.Mutex
	loadedPath string
	loads      int
	failLoad   error
	closed     bool
}

func (f *fakeFull) LoadWeights(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.failLoad != nil {
		return f.failLoad
	}
	f.loadedPath = path
	return nil
}

func (f *fakeFull) SaveWeights(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("weights"), 0o644)
}

func (f *fakeFull) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

type fakePredictor struct {
	f      *fakeFull
	shapes config.ModelConfig
}

func (p *fakePredictor) Predict(images []float32, batchSize int) ([]float32, []float32, error) {
	return make([]float32, batchSize), make([]float32, batchSize*p.shapes.PolicySize()), nil
}

type fakeTrainable struct {
	fakePredictor
}

func (t *fakeTrainable) TrainBatch(images []float32, batchSize int, _, _ []float32) (float32, error) {
	return 0.1, nil
}

type fakeEncoder struct{}

func (fakeEncoder) Encode(images []float32, batchSize int) ([][]float32, error) {
	out := make([][]float32, batchSize)
	for i := range out {
		out[i] = []float32{0}
	}
	return out, nil
}

// fakeDecoder emits a scripted token sequence.
type fakeDecoder struct {
	script     []int
	step       int
	loadedPath string
}

func (d *fakeDecoder) Step(memory []float32, tokens []int) ([]float32, error) {
	logits := make([]float32, 64)
	next := d.script[d.step%len(d.script)]
	d.step++
	logits[next] = 1
	return logits, nil
}

func (d *fakeDecoder) LoadWeights(path string) error {
	d.loadedPath = path
	return nil
}

func (d *fakeDecoder) SaveWeights(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("decoder"), 0o644)
}

// fakeBuilder counts constructions so tests can assert no duplicate
// materialization.
type fakeBuilder struct {
	shapes config.ModelConfig

	builds         atomic.Int64
	subsetPredicts atomic.Int64
	subsetTrains   atomic.Int64

	buildErr      error
	decoderScript []int
	tokenizer     *model.Tokenizer

	mu    sync.Mutex
	fulls []*fakeFull
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{
		shapes:        config.ModelConfig{InputPlanes: 1, PolicyPlanes: 1, CommentaryVocabSize: 64, CommentaryMaxLength: 8},
		decoderScript: []int{0},
	}
}

func (b *fakeBuilder) Build() (model.Full, error) {
	if b.buildErr != nil {
		return nil, b.buildErr
	}
	b.builds.Add(1)
	f := &fakeFull{}
	b.mu.Lock()
	b.fulls = append(b.fulls, f)
	b.mu.Unlock()
	return f, nil
}

func (b *fakeBuilder) SubsetPredict(full model.Full) (model.Predictor, error) {
	f, ok := full.(*fakeFull)
	if !ok {
		return nil, errors.New("not a fake full")
	}
	b.subsetPredicts.Add(1)
	return &fakePredictor{f: f, shapes: b.shapes}, nil
}

func (b *fakeBuilder) SubsetTrain(full model.Full) (model.Trainable, error) {
	f, ok := full.(*fakeFull)
	if !ok {
		return nil, errors.New("not a fake full")
	}
	b.subsetTrains.Add(1)
	return &fakeTrainable{fakePredictor{f: f, shapes: b.shapes}}, nil
}

func (b *fakeBuilder) SubsetCommentaryEncoder(full model.Full) (model.Encoder, error) {
	return fakeEncoder{}, nil
}

func (b *fakeBuilder) BuildCommentaryDecoder() (model.Decoder, error) {
	return &fakeDecoder{script: b.decoderScript}, nil
}

func (b *fakeBuilder) BuildTokenizer() (*model.Tokenizer, error) {
	if b.tokenizer != nil {
		return b.tokenizer, nil
	}
	return model.NewTokenizer(b.shapes.CommentaryVocabSize), nil
}

// testHarness wires one Network (or a Networks pair) against a temp
// networks root.
type testHarness struct {
	root    string
	clock   *fakeClock
	builder *fakeBuilder
	guards  *Guards
	paths   *store.Paths
}

func newHarness(t *testing.T, devices int) *testHarness {
	t.Helper()
	return &testHarness{
		root:    t.TempDir(),
		clock:   newFakeClock(),
		builder: newFakeBuilder(),
		guards:  NewGuards(devices),
		paths:   store.NewPaths(filepath.Join(t.TempDir(), "networks")),
	}
}

func (h *testHarness) config(t *testing.T) Config {
	t.Helper()
	return Config{
		Log:                 zerolog.Nop(),
		Builder:             h.builder,
		Paths:               h.paths,
		Loader:              store.NewLoaderWithClock(zerolog.Nop(), h.clock),
		Clock:               h.clock,
		UpdateCheckInterval: 10 * time.Second,
		TensorboardRoot:     filepath.Join(h.root, "tensorboard"),
		Shapes:              h.builder.shapes,
	}
}

func (h *testHarness) network(t *testing.T, netType types.NetworkType) *Network {
	t.Helper()
	cfg := h.config(t)
	cfg.Type = netType
	cfg.Name = "network"
	cfg.Guards = h.guards
	return New(cfg)
}

// writeCheckpoint creates the on-disk layout for a checkpoint at step,
// with a weights file for the given type.
func (h *testHarness) writeCheckpoint(t *testing.T, name string, step int, netType types.NetworkType) string {
	t.Helper()
	dir, err := h.paths.NetworkPath(name, step)
	if err != nil {
		t.Fatalf("network path: %v", err)
	}
	weights := store.ModelFullPath(dir, netType)
	if err := os.MkdirAll(filepath.Dir(weights), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(weights, []byte("weights"), 0o644); err != nil {
		t.Fatalf("write weights: %v", err)
	}
	return dir
}
