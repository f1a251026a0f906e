package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and are replaced by Default() in main.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// Filesystem roots.
	NetworksDir    string `json:"networks_dir" yaml:"networks_dir" toml:"networks_dir"`
	TensorboardDir string `json:"tensorboard_dir" yaml:"tensorboard_dir" toml:"tensorboard_dir"`
	DataDir        string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`

	// Name of the active network family; switchable at runtime.
	NetworkName string `json:"network_name" yaml:"network_name" toml:"network_name"`

	// Seconds between checks for newer checkpoint weights on the
	// prediction path. Bounds storage polling cost.
	UpdateCheckIntervalSeconds int `json:"update_check_interval_seconds" yaml:"update_check_interval_seconds" toml:"update_check_interval_seconds"`

	// Device count override; 0 means probe hardware.
	DeviceCount int `json:"device_count" yaml:"device_count" toml:"device_count"`

	// Model backend: "reference" or "onnx".
	ModelBackend string `json:"model_backend" yaml:"model_backend" toml:"model_backend"`
	// Shared library path for the ONNX runtime, when backend is "onnx".
	OnnxLibraryPath string `json:"onnx_library_path" yaml:"onnx_library_path" toml:"onnx_library_path"`

	Model    ModelConfig    `json:"model" yaml:"model" toml:"model"`
	Training TrainingConfig `json:"training" yaml:"training" toml:"training"`
}

// ModelConfig fixes the tensor shapes shared by every backend.
type ModelConfig struct {
	// Input planes per position (each an 8x8 board plane).
	InputPlanes int `json:"input_planes" yaml:"input_planes" toml:"input_planes"`
	// Policy planes per position (each an 8x8 move-target plane).
	PolicyPlanes int `json:"policy_planes" yaml:"policy_planes" toml:"policy_planes"`
	// Commentary decoding bounds.
	CommentaryVocabSize int `json:"commentary_vocab_size" yaml:"commentary_vocab_size" toml:"commentary_vocab_size"`
	CommentaryMaxLength int `json:"commentary_max_length" yaml:"commentary_max_length" toml:"commentary_max_length"`
}

// TrainingConfig tunes the training collaborator.
type TrainingConfig struct {
	BatchSize          int `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	ValidationInterval int `json:"validation_interval" yaml:"validation_interval" toml:"validation_interval"`
}

// SquareCount is the number of squares per board plane.
const SquareCount = 64

// InputSize returns the per-position input tensor length.
func (m ModelConfig) InputSize() int { return m.InputPlanes * SquareCount }

// PolicySize returns the per-position policy tensor length.
func (m ModelConfig) PolicySize() int { return m.PolicyPlanes * SquareCount }

// Default returns the baseline configuration used when no file is given.
func Default() Config {
	return Config{
		Addr:                       ":8432",
		NetworksDir:                "~/chesscoach/networks",
		TensorboardDir:             "~/chesscoach/tensorboard",
		DataDir:                    "~/chesscoach/data",
		NetworkName:                "network",
		UpdateCheckIntervalSeconds: 60,
		ModelBackend:               "reference",
		Model: ModelConfig{
			InputPlanes:         101,
			PolicyPlanes:        73,
			CommentaryVocabSize: 8000,
			CommentaryMaxLength: 64,
		},
		Training: TrainingConfig{
			BatchSize:          512,
			ValidationInterval: 100,
		},
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}
