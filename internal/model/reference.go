package model

import (
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"chesscoachd/internal/config"
)

// ReferenceBuilder constructs the in-process reference backend: a small
// two-layer scorer with deterministic seeded initialization and
// gob-serialized weights. It exists so the daemon and tests can exercise
// the full lifecycle without an accelerator runtime; capacity is the
// hidden width (the teacher network uses a wider backbone than the
// student, mirrored here).
type ReferenceBuilder struct {
	shapes config.ModelConfig
	hidden int
	seed   int64
}

// NewReferenceBuilder returns a builder for the given shapes and
// capacity. The seed fixes fresh-model initialization.
func NewReferenceBuilder(shapes config.ModelConfig, hidden int, seed int64) *ReferenceBuilder {
	if hidden <= 0 {
		hidden = 64
	}
	return &ReferenceBuilder{shapes: shapes, hidden: hidden, seed: seed}
}

// Build constructs a freshly initialized full model.
func (b *ReferenceBuilder) Build() (Full, error) {
	f := &refFull{shapes: b.shapes, hidden: b.hidden}
	f.init(b.seed)
	return f, nil
}

// SubsetPredict derives the inference-only view.
func (b *ReferenceBuilder) SubsetPredict(full Full) (Predictor, error) {
	f, err := asRefFull(full)
	if err != nil {
		return nil, err
	}
	return &refPredictor{f: f}, nil
}

// SubsetTrain derives the training-only view.
func (b *ReferenceBuilder) SubsetTrain(full Full) (Trainable, error) {
	f, err := asRefFull(full)
	if err != nil {
		return nil, err
	}
	return &refTrainable{refPredictor{f: f}}, nil
}

// SubsetCommentaryEncoder derives the commentary encoder, exposing the
// backbone's hidden activations as decoder memory.
func (b *ReferenceBuilder) SubsetCommentaryEncoder(full Full) (Encoder, error) {
	f, err := asRefFull(full)
	if err != nil {
		return nil, err
	}
	return &refEncoder{f: f}, nil
}

// BuildCommentaryDecoder constructs a fresh commentary decoder.
func (b *ReferenceBuilder) BuildCommentaryDecoder() (Decoder, error) {
	d := &refDecoder{vocab: b.shapes.CommentaryVocabSize, hidden: b.hidden}
	d.init(b.seed + 1)
	return d, nil
}

// BuildTokenizer constructs a fresh commentary tokenizer.
func (b *ReferenceBuilder) BuildTokenizer() (*Tokenizer, error) {
	return NewTokenizer(b.shapes.CommentaryVocabSize), nil
}

func asRefFull(full Full) (*refFull, error) {
	f, ok := full.(*refFull)
	if !ok {
		return nil, fmt.Errorf("model: full model is %T, not a reference model", full)
	}
	return f, nil
}

// refFull owns the parameters. Subset views hold a pointer to it and
// take its lock around every forward/backward pass, so an in-place
// weight reload is safe against concurrent predictions.
type refFull struct {
	mu     sync.RWMutex
	shapes config.ModelConfig
	hidden int
	w1     []float32 // inputSize x hidden
	wv     []float32 // hidden
	w2     []float32 // hidden x policySize
}

type refWeights struct {
	Hidden int
	W1     []float32
	WV     []float32
	W2     []float32
}

func (f *refFull) init(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	in := f.shapes.InputSize()
	out := f.shapes.PolicySize()
	f.w1 = randomSlice(rng, in*f.hidden)
	f.wv = randomSlice(rng, f.hidden)
	f.w2 = randomSlice(rng, f.hidden*out)
}

func randomSlice(rng *rand.Rand, n int) []float32 {
	s := make([]float32, n)
	scale := float32(1.0 / math.Sqrt(float64(n)))
	for i := range s {
		s[i] = (rng.Float32()*2 - 1) * scale
	}
	return s
}

func (f *refFull) LoadWeights(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	var w refWeights
	if err := gob.NewDecoder(file).Decode(&w); err != nil {
		return fmt.Errorf("decode weights %s: %w", path, err)
	}
	in := f.shapes.InputSize()
	out := f.shapes.PolicySize()
	if w.Hidden != f.hidden || len(w.W1) != in*w.Hidden || len(w.WV) != w.Hidden || len(w.W2) != w.Hidden*out {
		return fmt.Errorf("weights %s do not match model shape", path)
	}
	f.mu.Lock()
	f.w1, f.wv, f.w2 = w.W1, w.WV, w.W2
	f.mu.Unlock()
	return nil
}

func (f *refFull) SaveWeights(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	f.mu.RLock()
	w := refWeights{Hidden: f.hidden, W1: f.w1, WV: f.wv, W2: f.w2}
	err = gob.NewEncoder(file).Encode(&w)
	f.mu.RUnlock()
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (f *refFull) Close() error { return nil }

// forward computes hidden activations, values and policies for a batch.
// Callers hold at least a read lock.
func (f *refFull) forward(images []float32, batchSize int) (hidden [][]float32, values, policies []float32, err error) {
	in := f.shapes.InputSize()
	out := f.shapes.PolicySize()
	if len(images) != batchSize*in {
		return nil, nil, nil, fmt.Errorf("model: expected %d image floats, got %d", batchSize*in, len(images))
	}
	hidden = make([][]float32, batchSize)
	values = make([]float32, batchSize)
	policies = make([]float32, batchSize*out)
	for b := 0; b < batchSize; b++ {
		x := images[b*in : (b+1)*in]
		h := make([]float32, f.hidden)
		for j := 0; j < f.hidden; j++ {
			var sum float32
			for i := 0; i < in; i++ {
				sum += x[i] * f.w1[i*f.hidden+j]
			}
			h[j] = float32(math.Tanh(float64(sum)))
		}
		hidden[b] = h
		var v float32
		for j := 0; j < f.hidden; j++ {
			v += h[j] * f.wv[j]
		}
		values[b] = float32(math.Tanh(float64(v)))
		p := policies[b*out : (b+1)*out]
		for k := 0; k < out; k++ {
			var sum float32
			for j := 0; j < f.hidden; j++ {
				sum += h[j] * f.w2[j*out+k]
			}
			p[k] = sum
		}
		softmaxInPlace(p)
	}
	return hidden, values, policies, nil
}

func softmaxInPlace(logits []float32) {
	if len(logits) == 0 {
		return
	}
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	var sum float32
	for i, v := range logits {
		e := float32(math.Exp(float64(v - max)))
		logits[i] = e
		sum += e
	}
	for i := range logits {
		logits[i] /= sum
	}
}

type refPredictor struct {
	f *refFull
}

func (p *refPredictor) Predict(images []float32, batchSize int) ([]float32, []float32, error) {
	p.f.mu.RLock()
	defer p.f.mu.RUnlock()
	_, values, policies, err := p.f.forward(images, batchSize)
	return values, policies, err
}

type refTrainable struct {
	refPredictor
}

func (t *refTrainable) TrainBatch(images []float32, batchSize int, valueTargets, policyTargets []float32) (float32, error) {
	f := t.f
	f.mu.Lock()
	defer f.mu.Unlock()
	hidden, values, policies, err := f.forward(images, batchSize)
	if err != nil {
		return 0, err
	}
	if len(valueTargets) != batchSize {
		return 0, fmt.Errorf("model: expected %d value targets, got %d", batchSize, len(valueTargets))
	}
	out := f.shapes.PolicySize()
	if len(policyTargets) != batchSize*out {
		return 0, fmt.Errorf("model: expected %d policy targets, got %d", batchSize*out, len(policyTargets))
	}
	// Value-head gradient step plus policy cross-entropy for the loss.
	const lr = 1e-3
	var loss float32
	for b := 0; b < batchSize; b++ {
		diff := values[b] - valueTargets[b]
		loss += diff * diff
		for j := 0; j < f.hidden; j++ {
			f.wv[j] -= lr * diff * hidden[b][j]
		}
		p := policies[b*out : (b+1)*out]
		for k, target := range policyTargets[b*out : (b+1)*out] {
			if target > 0 {
				loss -= target * float32(math.Log(float64(p[k])+1e-9))
			}
		}
	}
	return loss / float32(batchSize), nil
}

type refEncoder struct {
	f *refFull
}

func (e *refEncoder) Encode(images []float32, batchSize int) ([][]float32, error) {
	e.f.mu.RLock()
	defer e.f.mu.RUnlock()
	hidden, _, _, err := e.f.forward(images, batchSize)
	return hidden, err
}

// refDecoder is a deterministic next-token scorer over embedded tokens
// plus encoder memory. Its weights checkpoint independently of the
// backbone, like the real commentary decoder.
type refDecoder struct {
	mu     sync.RWMutex
	vocab  int
	hidden int
	emb    []float32 // vocab x hidden
	out    []float32 // hidden x vocab
}

type refDecoderWeights struct {
	Vocab  int
	Hidden int
	Emb    []float32
	Out    []float32
}

func (d *refDecoder) init(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	d.emb = randomSlice(rng, d.vocab*d.hidden)
	d.out = randomSlice(rng, d.hidden*d.vocab)
}

func (d *refDecoder) Step(memory []float32, tokens []int) ([]float32, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	state := make([]float32, d.hidden)
	for j := 0; j < d.hidden && j < len(memory); j++ {
		state[j] = memory[j]
	}
	for _, tok := range tokens {
		if tok < 0 || tok >= d.vocab {
			return nil, fmt.Errorf("model: token %d out of vocabulary", tok)
		}
		for j := 0; j < d.hidden; j++ {
			state[j] += d.emb[tok*d.hidden+j]
		}
	}
	logits := make([]float32, d.vocab)
	for v := 0; v < d.vocab; v++ {
		var sum float32
		for j := 0; j < d.hidden; j++ {
			sum += state[j] * d.out[j*d.vocab+v]
		}
		logits[v] = sum
	}
	return logits, nil
}

func (d *refDecoder) LoadWeights(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	var w refDecoderWeights
	if err := gob.NewDecoder(file).Decode(&w); err != nil {
		return fmt.Errorf("decode decoder weights %s: %w", path, err)
	}
	if w.Vocab != d.vocab || w.Hidden != d.hidden {
		return fmt.Errorf("decoder weights %s do not match model shape", path)
	}
	d.mu.Lock()
	d.emb, d.out = w.Emb, w.Out
	d.mu.Unlock()
	return nil
}

func (d *refDecoder) SaveWeights(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	d.mu.RLock()
	w := refDecoderWeights{Vocab: d.vocab, Hidden: d.hidden, Emb: d.emb, Out: d.out}
	err = gob.NewEncoder(file).Encode(&w)
	d.mu.RUnlock()
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
