// Package network is the model-lifecycle core: lazy construction,
// per-device prediction-model caching, periodic hot-reload of updated
// checkpoint weights, and the coordination locks that make those
// operations safe from many serving goroutines plus one training loop.
package network

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chesscoachd/internal/config"
	"chesscoachd/internal/model"
	"chesscoachd/internal/store"
	"chesscoachd/internal/tblog"
	"chesscoachd/pkg/types"
)

// Config carries everything one Network needs. Collaborators come in
// from the outside; nothing here is ambient process state.
type Config struct {
	Log     zerolog.Logger
	Type    types.NetworkType
	Builder model.Builder
	Name    string

	Paths  *store.Paths
	Loader *store.Loader
	Clock  store.Clock

	// Throttle for newer-checkpoint polling on the prediction path.
	UpdateCheckInterval time.Duration

	TensorboardRoot string
	Shapes          config.ModelConfig
	Guards          *Guards

	// CountTrainingChunks reports available training data for Info.
	CountTrainingChunks func() int
}

// Network orchestrates lazy build, hot-reload and save for one network
// type. All prediction-side cache state is guarded by the per-device
// ensure locks in Guards; training-side state is single-writer by
// contract (one training loop) and takes only the creation lock around
// model materialization.
type Network struct {
	log      zerolog.Logger
	netType  types.NetworkType
	builder  model.Builder
	paths    *store.Paths
	loader   *store.Loader
	clock    store.Clock
	interval time.Duration
	tbRoot   string
	shapes   config.ModelConfig
	guards   *Guards

	chunkCount func() int

	// TrainingCompiler wires optimizer/loss into a fresh training
	// subset. Installed by the training collaborator before the first
	// EnsureTraining call.
	TrainingCompiler model.Compiler

	nameMu sync.RWMutex
	name   string

	modelsPredict []*PredictionModels
	modelsTrain   *TrainingModels
	tbTraining    *tblog.Writer
	tbValidation  *tblog.Writer
}

// New constructs a Network with empty caches.
func New(cfg Config) *Network {
	n := &Network{
		log:        cfg.Log.With().Str("network", string(cfg.Type)).Logger(),
		netType:    cfg.Type,
		builder:    cfg.Builder,
		paths:      cfg.Paths,
		loader:     cfg.Loader,
		clock:      cfg.Clock,
		interval:   cfg.UpdateCheckInterval,
		tbRoot:     cfg.TensorboardRoot,
		shapes:     cfg.Shapes,
		guards:     cfg.Guards,
		chunkCount: cfg.CountTrainingChunks,
		name:       cfg.Name,
	}
	if n.clock == nil {
		n.clock = store.RealClock()
	}
	if n.chunkCount == nil {
		n.chunkCount = func() int { return 0 }
	}
	n.initialize()
	return n
}

// initialize clears out any loaded models, ready to lazy-load using the
// current name. Callers hold every ensure lock (or are the single
// constructor/training writer).
func (n *Network) initialize() {
	for _, models := range n.modelsPredict {
		if models.full != nil {
			models.full.Close()
		}
	}
	if n.modelsTrain != nil && n.modelsTrain.full != nil {
		n.modelsTrain.full.Close()
	}
	if n.tbTraining != nil {
		n.tbTraining.Close()
	}
	if n.tbValidation != nil {
		n.tbValidation.Close()
	}
	n.modelsPredict = make([]*PredictionModels, n.guards.DeviceCount())
	for i := range n.modelsPredict {
		n.modelsPredict[i] = &PredictionModels{}
	}
	n.modelsTrain = &TrainingModels{}
	n.tbTraining = nil
	n.tbValidation = nil
}

// Type returns the network type.
func (n *Network) Type() types.NetworkType { return n.netType }

// Name returns the active network family name.
func (n *Network) Name() string {
	n.nameMu.RLock()
	defer n.nameMu.RUnlock()
	return n.name
}

// setName switches the on-disk network family and discards all cached
// state, equivalent to a process restart for cache purposes. Serialized
// by Networks against in-flight ensures.
func (n *Network) setName(name string) {
	n.nameMu.Lock()
	n.name = name
	n.nameMu.Unlock()
	n.initialize()
	cacheResets.Inc()
}

// Info reports the latest checkpoint step and available training data.
func (n *Network) Info() types.NetworkInfo {
	path := n.paths.LatestNetworkPath(n.Name(), n.netType)
	return types.NetworkInfo{
		StepCount:          store.StepFromPath(path),
		TrainingChunkCount: n.chunkCount(),
	}
}

// TrainingWriter returns the training scalar sink, nil before
// EnsureTraining.
func (n *Network) TrainingWriter() *tblog.Writer { return n.tbTraining }

// ValidationWriter returns the validation scalar sink, nil before
// EnsureTraining.
func (n *Network) ValidationWriter() *tblog.Writer { return n.tbValidation }

func (n *Network) tensorboardDir(run string) string {
	return filepath.Join(n.tbRoot, n.Name(), string(n.netType), run)
}
