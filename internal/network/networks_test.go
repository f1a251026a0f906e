package network

import (
	"sync"
	"testing"

	"chesscoachd/pkg/types"
)

func newTestNetworks(t *testing.T, h *testHarness) *Networks {
	t.Helper()
	return NewNetworks("network", h.guards, h.config(t), h.config(t))
}

func TestNetworksGet(t *testing.T) {
	h := newHarness(t, 1)
	ns := newTestNetworks(t, h)
	if n, err := ns.Get(types.Teacher); err != nil || n != ns.Teacher() {
		t.Fatalf("teacher lookup failed: %v", err)
	}
	if n, err := ns.Get(types.Student); err != nil || n != ns.Student() {
		t.Fatalf("student lookup failed: %v", err)
	}
	if _, err := ns.Get("referee"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestSetNamePropagatesAndResets(t *testing.T) {
	h := newHarness(t, 2)
	ns := newTestNetworks(t, h)

	// Warm both networks on both devices.
	for device := 0; device < 2; device++ {
		if _, _, err := ns.Teacher().EnsurePrediction(device); err != nil {
			t.Fatalf("ensure teacher: %v", err)
		}
		if _, _, err := ns.Student().EnsurePrediction(device); err != nil {
			t.Fatalf("ensure student: %v", err)
		}
	}
	warmBuilds := h.builder.builds.Load()
	if warmBuilds != 4 {
		t.Fatalf("expected 4 fulls got %d", warmBuilds)
	}
	warmed := append([]*fakeFull(nil), h.builder.fulls...)

	ns.SetName("candidate")
	if ns.Name() != "candidate" || ns.Teacher().Name() != "candidate" || ns.Student().Name() != "candidate" {
		t.Fatalf("name did not propagate")
	}
	// Discarded models are closed with the caches.
	for i, f := range warmed {
		if !f.closed {
			t.Fatalf("full %d not closed on reset", i)
		}
	}

	// Next access rebuilds lazily under the new name.
	if _, _, err := ns.Teacher().EnsurePrediction(0); err != nil {
		t.Fatalf("ensure after reset: %v", err)
	}
	if got := h.builder.builds.Load(); got != warmBuilds+1 {
		t.Fatalf("expected lazy rebuild after reset, builds %d", got)
	}
}

func TestSetNameResetsTrainingCache(t *testing.T) {
	h := newHarness(t, 1)
	ns := newTestNetworks(t, h)
	if _, err := ns.Teacher().EnsureTraining(); err != nil {
		t.Fatalf("ensure training: %v", err)
	}
	ns.SetName("fresh")
	if ns.Teacher().modelsTrain.train != nil {
		t.Fatalf("training cache survived name switch")
	}
	if ns.Teacher().TrainingWriter() != nil {
		t.Fatalf("scalar sinks survived name switch")
	}
}

func TestSetNameSerializesWithEnsures(t *testing.T) {
	h := newHarness(t, 2)
	ns := newTestNetworks(t, h)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, _, err := ns.Teacher().EnsurePrediction(i % 2); err != nil {
				t.Errorf("ensure: %v", err)
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				ns.SetName("a")
			} else {
				ns.SetName("b")
			}
		}(i)
	}
	wg.Wait()
	// After the dust settles a fresh ensure must still work.
	if _, _, err := ns.Teacher().EnsurePrediction(0); err != nil {
		t.Fatalf("ensure after churn: %v", err)
	}
}

func TestCommentaryAlwaysRoutedThroughTeacher(t *testing.T) {
	h := newHarness(t, 1)
	ns := newTestNetworks(t, h)
	images := make([]float32, h.builder.shapes.InputSize())
	if _, err := ns.PredictCommentaryBatch(images, 1); err != nil {
		t.Fatalf("commentary: %v", err)
	}
	if ns.Teacher().modelsTrain.commentaryEncoder == nil {
		t.Fatalf("expected teacher commentary models ensured")
	}
	if ns.Student().modelsTrain.commentaryEncoder != nil {
		t.Fatalf("student must not build commentary models")
	}
}
