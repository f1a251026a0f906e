package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Clock abstracts time for the retry loop so tests run without real
// sleeps.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// WeightReceiver is a model that can accept one weight-load attempt.
type WeightReceiver interface {
	LoadWeights(path string) error
}

// Retry policy for weight loads. Storage may be a slow remote
// filesystem, so one initial attempt is followed by up to maxRetries
// more with a fixed pause. No backoff, no partial-success handling.
const (
	loadMaxRetries = 10
	loadRetryDelay = time.Second
)

// Loader performs retrying weight loads against unreliable storage.
type Loader struct {
	clock Clock
	log   zerolog.Logger
}

// NewLoader returns a Loader using the wall clock.
func NewLoader(log zerolog.Logger) *Loader {
	return &Loader{clock: realClock{}, log: log}
}

// NewLoaderWithClock returns a Loader with an injected clock, for tests.
func NewLoaderWithClock(log zerolog.Logger, clock Clock) *Loader {
	return &Loader{clock: clock, log: log}
}

// LoadWeights loads weights into m from path, retrying transient
// failures. After all attempts fail it returns a fatal error naming the
// path; the caller treats that as unrecoverable.
func (l *Loader) LoadWeights(m WeightReceiver, path string) error {
	err := m.LoadWeights(path)
	if err == nil {
		return nil
	}
	for i := 0; i < loadMaxRetries; i++ {
		weightLoadRetries.Inc()
		l.log.Warn().Err(err).Str("path", path).Int("retry", i+1).Msg("weight load failed, retrying")
		l.clock.Sleep(loadRetryDelay)
		if err = m.LoadWeights(path); err == nil {
			return nil
		}
	}
	weightLoadFailures.Inc()
	return fmt.Errorf("failed to load weights from %s: %w", path, err)
}

// SaveFile writes data under root at a relative path, creating parent
// directories. The path must not escape root.
func SaveFile(root, relativePath string, data []byte) error {
	clean := filepath.Clean(relativePath)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return fmt.Errorf("store: relative path %q escapes data root", relativePath)
	}
	full := filepath.Join(root, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}
