// Package coach assembles the daemon's collaborators into one service
// object and exposes the flat-array entry points the game-playing
// engine calls. Everything the entry points need is constructed once
// here and passed down; no package-level state.
package coach

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"chesscoachd/internal/config"
	"chesscoachd/internal/dataset"
	"chesscoachd/internal/device"
	"chesscoachd/internal/model"
	"chesscoachd/internal/network"
	"chesscoachd/internal/store"
	"chesscoachd/internal/train"
	"chesscoachd/pkg/types"
)

// Service owns the device registry, the teacher/student networks and
// the training collaborator. Prediction entry points are safe for
// concurrent use; training entry points follow the single-writer
// contract and must not run concurrently with each other.
type Service struct {
	log      zerolog.Logger
	cfg      config.Config
	registry *device.Registry
	networks *network.Networks
	trainer  *train.Trainer
	dataset  *dataset.Builder
	dataDir  string
}

// New constructs the service: expands directory roots, probes devices,
// selects the model backend and wires the network pair.
func New(cfg config.Config, log zerolog.Logger) (*Service, error) {
	networksDir, err := config.ExpandHome(cfg.NetworksDir)
	if err != nil {
		return nil, err
	}
	tensorboardDir, err := config.ExpandHome(cfg.TensorboardDir)
	if err != nil {
		return nil, err
	}
	dataDir, err := config.ExpandHome(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	devices := device.Discover(cfg.DeviceCount, log)
	registry := device.NewRegistry(devices)
	guards := network.NewGuards(registry.Count())
	paths := store.NewPaths(networksDir)
	loader := store.NewLoader(log)

	teacherBuilder, studentBuilder, err := buildBackends(cfg, log)
	if err != nil {
		return nil, err
	}

	chunkCount := func() int { return dataset.CountTrainingChunks(dataDir) }
	netCfg := func(builder model.Builder) network.Config {
		return network.Config{
			Log:                 log,
			Builder:             builder,
			Paths:               paths,
			Loader:              loader,
			UpdateCheckInterval: time.Duration(cfg.UpdateCheckIntervalSeconds) * time.Second,
			TensorboardRoot:     tensorboardDir,
			Shapes:              cfg.Model,
			CountTrainingChunks: chunkCount,
		}
	}

	trainer := train.New(log, train.NewRandomSampler(cfg.Model, time.Now().UnixNano()), cfg.Training)
	networks := network.NewNetworks(cfg.NetworkName, guards, netCfg(teacherBuilder), netCfg(studentBuilder))
	trainer.Bind(networks.Teacher())
	trainer.Bind(networks.Student())

	return &Service{
		log:      log.With().Str("component", "coach").Logger(),
		cfg:      cfg,
		registry: registry,
		networks: networks,
		trainer:  trainer,
		dataset:  dataset.NewBuilder(cfg.Model),
		dataDir:  dataDir,
	}, nil
}

func buildBackends(cfg config.Config, log zerolog.Logger) (model.Builder, model.Builder, error) {
	switch cfg.ModelBackend {
	case "", "reference":
		return model.NewReferenceBuilder(cfg.Model, 0, 1), model.NewReferenceBuilder(cfg.Model, 0, 2), nil
	case "onnx":
		if err := model.InitOnnxRuntime(cfg.OnnxLibraryPath); err != nil {
			return nil, nil, err
		}
		log.Info().Str("library", cfg.OnnxLibraryPath).Msg("onnx runtime initialized")
		return model.NewOnnxBuilder(cfg.Model), model.NewOnnxBuilder(cfg.Model), nil
	default:
		return nil, nil, fmt.Errorf("coach: unknown model backend %q", cfg.ModelBackend)
	}
}

// Devices lists the probed devices.
func (s *Service) Devices() []device.Device { return s.registry.Devices() }

// Ready reports whether the service can take traffic. Construction wires
// everything eagerly except the models themselves, which load lazily on
// first prediction.
func (s *Service) Ready() bool { return s.registry.Count() > 0 }

// PredictBatch serves one batch for the given network on the worker's
// assigned device. The worker id pins each caller to a stable device
// round-robin on first touch.
func (s *Service) PredictBatch(networkType types.NetworkType, workerID uint64, images []float32, batchSize int) (types.PredictionStatus, []float32, []float32, error) {
	n, err := s.networks.Get(networkType)
	if err != nil {
		return types.StatusNothing, nil, nil, err
	}
	if err := s.checkBatch(images, batchSize); err != nil {
		return types.StatusNothing, nil, nil, err
	}
	return n.PredictBatch(s.registry.Assign(workerID), images, batchSize)
}

// PredictCommentaryBatch generates one comment per position. Commentary
// always runs on the teacher network.
func (s *Service) PredictCommentaryBatch(images []float32, batchSize int) ([]string, error) {
	if err := s.checkBatch(images, batchSize); err != nil {
		return nil, err
	}
	raw, err := s.networks.PredictCommentaryBatch(images, batchSize)
	if err != nil {
		return nil, err
	}
	comments := make([]string, len(raw))
	for i, c := range raw {
		comments[i] = string(c)
	}
	return comments, nil
}

// Train advances the given network to the target step.
func (s *Service) Train(ctx context.Context, networkType types.NetworkType, gameTypes []string, windows []types.Window, step int, checkpoint bool) error {
	n, err := s.networks.Get(networkType)
	if err != nil {
		return err
	}
	return s.trainer.Train(ctx, n, gameTypes, windows, step, checkpoint)
}

// TrainCommentary trains the teacher's commentary models.
func (s *Service) TrainCommentary(ctx context.Context, step int, checkpoint bool) error {
	return s.trainer.TrainCommentary(ctx, s.networks.Teacher(), step, checkpoint)
}

// LogScalars appends externally computed scalars to the given network's
// validation sink.
func (s *Service) LogScalars(networkType types.NetworkType, step int, names []string, values []float32) error {
	n, err := s.networks.Get(networkType)
	if err != nil {
		return err
	}
	return s.trainer.LogScalars(n, step, names, values)
}

// LoadNetwork switches the active network family by name, invalidating
// all cached models.
func (s *Service) LoadNetwork(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty network name", ErrInvalidArgument)
	}
	s.log.Info().Str("name", name).Msg("switching network")
	s.networks.SetName(name)
	return nil
}

// NetworkInfo reports the latest checkpoint step and the available
// training chunk count for the given network.
func (s *Service) NetworkInfo(networkType types.NetworkType) (types.NetworkInfo, error) {
	n, err := s.networks.Get(networkType)
	if err != nil {
		return types.NetworkInfo{}, err
	}
	return n.Info(), nil
}

// SaveNetwork checkpoints the given network's training-side models at
// the requested step.
func (s *Service) SaveNetwork(networkType types.NetworkType, step int) error {
	n, err := s.networks.Get(networkType)
	if err != nil {
		return err
	}
	return n.Save(step)
}

// SaveFile writes raw bytes under the data root. The relative path must
// stay inside the root.
func (s *Service) SaveFile(relativePath string, data []byte) error {
	return store.SaveFile(s.dataDir, relativePath, data)
}

// DebugDecompress densifies one compressed training record.
func (s *Service) DebugDecompress(req types.DecompressRequest) (types.DecompressResponse, error) {
	out, err := s.dataset.Decompress(req.Result, req.ImagePiecesAuxiliary, req.MCTSValues,
		req.PolicyRowLengths, req.PolicyIndices, req.PolicyValues)
	if err != nil {
		return types.DecompressResponse{}, err
	}
	return types.DecompressResponse{
		Images:        out.Images,
		Values:        out.Values,
		Policies:      out.Policies,
		ReplyPolicies: out.ReplyPolicies,
	}, nil
}

func (s *Service) checkBatch(images []float32, batchSize int) error {
	if batchSize <= 0 {
		return fmt.Errorf("%w: batch size %d", ErrInvalidArgument, batchSize)
	}
	if want := batchSize * s.cfg.Model.InputSize(); len(images) != want {
		return fmt.Errorf("%w: expected %d image floats for batch of %d, got %d", ErrInvalidArgument, want, batchSize, len(images))
	}
	return nil
}
