package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chesscoachd/internal/coach"
	"chesscoachd/internal/config"
	"chesscoachd/internal/httpapi"
	"chesscoachd/pkg/types"
)

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

type flags struct {
	configPath  string
	addr        string
	networksDir string
	tbDir       string
	dataDir     string
	networkName string
	deviceCount int
	backend     string
	onnxLibrary string
	logLevel    string
	corsEnabled bool
	corsOrigins []string
}

// loadConfig layers file config under explicit flag overrides.
func (f *flags) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
	}
	set := cmd.Flags().Changed
	if set("addr") || f.configPath == "" {
		cfg.Addr = f.addr
	}
	if set("networks-dir") {
		cfg.NetworksDir = f.networksDir
	}
	if set("tensorboard-dir") {
		cfg.TensorboardDir = f.tbDir
	}
	if set("data-dir") {
		cfg.DataDir = f.dataDir
	}
	if set("network-name") {
		cfg.NetworkName = f.networkName
	}
	if set("device-count") {
		cfg.DeviceCount = f.deviceCount
	}
	if set("model-backend") {
		cfg.ModelBackend = f.backend
	}
	if set("onnx-library") {
		cfg.OnnxLibraryPath = f.onnxLibrary
	}
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()
}

func buildRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "chesscoachd",
		Short:         "Neural-network lifecycle daemon for the chess engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, f)
		},
	}

	defaults := config.Default()
	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", envStr("CHESSCOACH_CONFIG", ""), "Config file (.yaml/.json/.toml)")
	pf.StringVar(&f.addr, "addr", envStr("CHESSCOACH_ADDR", defaults.Addr), "HTTP listen address, e.g. :8432")
	pf.StringVar(&f.networksDir, "networks-dir", defaults.NetworksDir, "Root directory for network checkpoints")
	pf.StringVar(&f.tbDir, "tensorboard-dir", defaults.TensorboardDir, "Root directory for scalar event logs")
	pf.StringVar(&f.dataDir, "data-dir", defaults.DataDir, "Root directory for training data and engine artifacts")
	pf.StringVar(&f.networkName, "network-name", defaults.NetworkName, "Initial network family name")
	pf.IntVar(&f.deviceCount, "device-count", envInt("CHESSCOACH_DEVICE_COUNT", 0), "Device count override (0=probe)")
	pf.StringVar(&f.backend, "model-backend", defaults.ModelBackend, "Model backend: reference|onnx")
	pf.StringVar(&f.onnxLibrary, "onnx-library", envStr("CHESSCOACH_ONNX_LIBRARY", ""), "Path to the onnxruntime shared library")
	pf.StringVar(&f.logLevel, "log-level", envStr("CHESSCOACH_LOG_LEVEL", "info"), "Log level: debug|info|warn|error")
	pf.BoolVar(&f.corsEnabled, "cors-enabled", false, "Enable CORS middleware")
	pf.StringSliceVar(&f.corsOrigins, "cors-origins", nil, "Allowed CORS origins")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP daemon (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, f)
		},
	}
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Print network info and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return info(cmd, f)
		},
	}
	root.AddCommand(serveCmd, infoCmd)
	return root
}

func serve(cmd *cobra.Command, f *flags) error {
	log := newLogger(f.logLevel)
	cfg, err := f.loadConfig(cmd)
	if err != nil {
		return err
	}

	svc, err := coach.New(cfg, log)
	if err != nil {
		return err
	}
	for _, d := range svc.Devices() {
		log.Info().Int("index", d.Index).Str("kind", string(d.Kind)).Str("name", d.Name).Msg("device")
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetLogger(log)
	if f.corsEnabled {
		httpapi.SetCORSOptions(true, f.corsOrigins,
			[]string{"GET", "POST", "OPTIONS"},
			[]string{"Accept", "Content-Type", "X-Worker-Id", "X-Log-Level"})
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(svc)}
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("backend", cfg.ModelBackend).Str("network", cfg.NetworkName).Msg("chesscoachd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}

func info(cmd *cobra.Command, f *flags) error {
	log := newLogger("error")
	cfg, err := f.loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, err := coach.New(cfg, log)
	if err != nil {
		return err
	}
	out := map[string]types.NetworkInfo{}
	for _, t := range []types.NetworkType{types.Teacher, types.Student} {
		info, err := svc.NetworkInfo(t)
		if err != nil {
			return err
		}
		out[string(t)] = info
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
