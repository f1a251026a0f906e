package model

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"chesscoachd/internal/config"
)

var onnxInitOnce sync.Once

// InitOnnxRuntime initializes the shared ONNX Runtime environment once
// per process. libraryPath may be empty to use the platform default.
func InitOnnxRuntime(libraryPath string) error {
	var err error
	onnxInitOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		err = ort.InitializeEnvironment()
	})
	return err
}

// OnnxBuilder constructs ONNX-backed full models. Checkpoint weight
// files are exported .onnx graphs, so "loading weights" swaps the
// session to the graph at the new path. Fresh models carry no session
// and cannot predict until a checkpoint is loaded; commentary models are
// not exported to ONNX.
type OnnxBuilder struct {
	shapes config.ModelConfig
}

// NewOnnxBuilder returns a builder for the given shapes.
func NewOnnxBuilder(shapes config.ModelConfig) *OnnxBuilder {
	return &OnnxBuilder{shapes: shapes}
}

func (b *OnnxBuilder) Build() (Full, error) {
	return &onnxFull{shapes: b.shapes}, nil
}

func (b *OnnxBuilder) SubsetPredict(full Full) (Predictor, error) {
	f, ok := full.(*onnxFull)
	if !ok {
		return nil, fmt.Errorf("model: full model is %T, not an onnx model", full)
	}
	return &onnxPredictor{f: f}, nil
}

func (b *OnnxBuilder) SubsetTrain(full Full) (Trainable, error) {
	return nil, fmt.Errorf("model: onnx backend is inference-only")
}

func (b *OnnxBuilder) SubsetCommentaryEncoder(full Full) (Encoder, error) {
	return nil, ErrCommentaryUnsupported
}

func (b *OnnxBuilder) BuildCommentaryDecoder() (Decoder, error) {
	return nil, ErrCommentaryUnsupported
}

func (b *OnnxBuilder) BuildTokenizer() (*Tokenizer, error) {
	return nil, ErrCommentaryUnsupported
}

type onnxFull struct {
	mu      sync.RWMutex
	shapes  config.ModelConfig
	session *ort.DynamicAdvancedSession
	// Path of the graph currently backing the session, kept so
	// SaveWeights can copy it forward.
	sourcePath string
}

func (f *onnxFull) LoadWeights(path string) error {
	session, err := ort.NewDynamicAdvancedSession(
		path,
		[]string{"images"},
		[]string{"value", "policy"},
		nil,
	)
	if err != nil {
		return fmt.Errorf("open onnx session %s: %w", path, err)
	}
	f.mu.Lock()
	old := f.session
	f.session = session
	f.sourcePath = path
	f.mu.Unlock()
	if old != nil {
		old.Destroy()
	}
	return nil
}

func (f *onnxFull) SaveWeights(path string) error {
	f.mu.RLock()
	src := f.sourcePath
	f.mu.RUnlock()
	if src == "" {
		return fmt.Errorf("model: onnx model has no weights to save")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (f *onnxFull) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session != nil {
		f.session.Destroy()
		f.session = nil
	}
	return nil
}

type onnxPredictor struct {
	f *onnxFull
}

func (p *onnxPredictor) Predict(images []float32, batchSize int) ([]float32, []float32, error) {
	f := p.f
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.session == nil {
		return nil, nil, fmt.Errorf("model: onnx model has no weights loaded")
	}
	shape := ort.NewShape(int64(batchSize), int64(f.shapes.InputPlanes), 8, 8)
	input, err := ort.NewTensor(shape, images)
	if err != nil {
		return nil, nil, err
	}
	defer input.Destroy()

	outputs := []ort.Value{nil, nil}
	if err := f.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, nil, err
	}
	valueTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("model: unexpected value output type %T", outputs[0])
	}
	defer valueTensor.Destroy()
	policyTensor, ok := outputs[1].(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("model: unexpected policy output type %T", outputs[1])
	}
	defer policyTensor.Destroy()

	values := append([]float32(nil), valueTensor.GetData()...)
	policies := append([]float32(nil), policyTensor.GetData()...)
	return values, policies, nil
}
