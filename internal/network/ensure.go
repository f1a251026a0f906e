package network

import (
	"strconv"

	"chesscoachd/internal/model"
	"chesscoachd/internal/store"
	"chesscoachd/pkg/types"
)

// EnsureFull guarantees the device's full model exists, building or
// loading it on first demand.
func (n *Network) EnsureFull(device int) error {
	n.guards.ensure[device].Lock()
	defer n.guards.ensure[device].Unlock()
	return n.ensureFullLocked(device)
}

// ensureFullLocked is EnsureFull with the device's ensure lock already
// held; the lock is not re-entrant, so the locked paths compose through
// this variant.
func (n *Network) ensureFullLocked(device int) error {
	models := n.modelsPredict[device]
	if models.full != nil {
		return nil
	}
	full, weightsPath, err := n.buildFull(deviceContext(device))
	if err != nil {
		return err
	}
	models.full = full
	models.fullWeightsPath = weightsPath
	models.fullWeightsLastCheck = n.clock.Now()
	return nil
}

func deviceContext(device int) string {
	return "device-" + strconv.Itoa(device)
}

// buildFull materializes one full model, either loading the latest
// checkpoint or creating a fresh one when no checkpoint exists. The
// global creation lock bounds materialization to one model at a time
// across all devices and both networks.
func (n *Network) buildFull(logContext string) (model.Full, string, error) {
	n.guards.creation.Lock()
	defer n.guards.creation.Unlock()

	networkPath := n.paths.LatestNetworkPath(n.Name(), n.netType)
	full, err := n.builder.Build()
	if err != nil {
		return nil, "", err
	}
	if networkPath == "" {
		n.log.Info().Str("context", logContext).Msg("creating new model")
		modelLoads.WithLabelValues(string(n.netType), logContext, "fresh").Inc()
		return full, "", nil
	}

	n.log.Info().Str("context", logContext).Str("checkpoint", store.LogName(networkPath)).Msg("loading model")
	weightsPath := store.ModelFullPath(networkPath, n.netType)
	if err := n.loader.LoadWeights(full, weightsPath); err != nil {
		full.Close()
		return nil, "", err
	}
	modelLoads.WithLabelValues(string(n.netType), logContext, "checkpoint").Inc()
	return full, weightsPath, nil
}

// MaybeCheckUpdateFull polls for newer weights at most once per
// configured interval. Callers hold the device's ensure lock.
func (n *Network) MaybeCheckUpdateFull(device int) (types.PredictionStatus, error) {
	models := n.modelsPredict[device]
	now := n.clock.Now()
	if now.Sub(models.fullWeightsLastCheck) > n.interval {
		models.fullWeightsLastCheck = now
		return n.CheckUpdateFull(device)
	}
	return types.StatusNothing, nil
}

// CheckUpdateFull reloads weights in place when a strictly newer
// checkpoint exists on disk. The comparison is lexicographic over the
// zero-padded weight paths, with "" (never checkpointed) comparing less
// than everything. Callers hold the device's ensure lock.
func (n *Network) CheckUpdateFull(device int) (types.PredictionStatus, error) {
	models := n.modelsPredict[device]
	networkPath := n.paths.LatestNetworkPath(n.Name(), n.netType)
	if networkPath == "" {
		return types.StatusNothing, nil
	}
	weightsPath := store.ModelFullPath(networkPath, n.netType)
	if models.fullWeightsPath >= weightsPath {
		return types.StatusNothing, nil
	}
	n.log.Info().Int("device", device).Str("checkpoint", store.LogName(networkPath)).Msg("updating model")
	if err := n.loader.LoadWeights(models.full, weightsPath); err != nil {
		return types.StatusNothing, err
	}
	models.fullWeightsPath = weightsPath
	networkUpdates.WithLabelValues(string(n.netType)).Inc()
	return types.StatusUpdatedNetwork, nil
}

// EnsurePrediction returns the device's prediction model, constructing
// full and predict on first demand. Once warmed it instead polls for
// newer weights, throttled by the update interval; a freshly created
// subset is definitionally up to date, so it reports StatusNothing.
func (n *Network) EnsurePrediction(device int) (types.PredictionStatus, model.Predictor, error) {
	n.guards.ensure[device].Lock()
	defer n.guards.ensure[device].Unlock()

	models := n.modelsPredict[device]
	if models.predict != nil {
		status, err := n.MaybeCheckUpdateFull(device)
		return status, models.predict, err
	}

	if err := n.ensureFullLocked(device); err != nil {
		return types.StatusNothing, nil, err
	}
	predict, err := n.builder.SubsetPredict(models.full)
	if err != nil {
		return types.StatusNothing, nil, err
	}
	models.predict = predict
	return types.StatusNothing, predict, nil
}

// PredictBatch serves one batch on the given device, ensuring the
// prediction model first. The status reports whether weights were
// hot-swapped; callers use it for logging, not retrying.
func (n *Network) PredictBatch(device int, images []float32, batchSize int) (types.PredictionStatus, []float32, []float32, error) {
	status, predict, err := n.EnsurePrediction(device)
	if err != nil {
		return status, nil, nil, err
	}
	values, policies, err := predict.Predict(images, batchSize)
	if err != nil {
		return status, nil, nil, err
	}
	predictions.WithLabelValues(string(n.netType)).Add(float64(batchSize))
	return status, values, policies, nil
}
