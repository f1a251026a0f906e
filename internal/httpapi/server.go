// Package httpapi exposes the coach service to the game-playing engine
// over HTTP: prediction and commentary on the hot path, training and
// checkpoint management on the slow path.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chesscoachd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	PredictBatch(networkType types.NetworkType, workerID uint64, images []float32, batchSize int) (types.PredictionStatus, []float32, []float32, error)
	PredictCommentaryBatch(images []float32, batchSize int) ([]string, error)
	Train(ctx context.Context, networkType types.NetworkType, gameTypes []string, windows []types.Window, step int, checkpoint bool) error
	TrainCommentary(ctx context.Context, step int, checkpoint bool) error
	LogScalars(networkType types.NetworkType, step int, names []string, values []float32) error
	LoadNetwork(name string) error
	NetworkInfo(networkType types.NetworkType) (types.NetworkInfo, error)
	SaveNetwork(networkType types.NetworkType, step int) error
	SaveFile(relativePath string, data []byte) error
	DebugDecompress(req types.DecompressRequest) (types.DecompressResponse, error)
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/predict/{network}", handlePredict(svc))
		r.Post("/commentary/predict", handleCommentary(svc))
		r.Post("/train/{network}", handleTrain(svc))
		r.Post("/train/commentary", handleTrainCommentary(svc))
		r.Post("/scalars/{network}", handleLogScalars(svc))
		r.Post("/network", handleLoadNetwork(svc))
		r.Get("/network/{network}/info", handleNetworkInfo(svc))
		r.Post("/network/{network}/save", handleSaveNetwork(svc))
		r.Post("/files", handleSaveFile(svc))
		r.Post("/debug/decompress", handleDecompress(svc))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// decodeJSON enforces the JSON content type and body size limit shared
// by every POST endpoint.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// networkParam validates the {network} URL parameter.
func networkParam(w http.ResponseWriter, r *http.Request) (types.NetworkType, bool) {
	t := types.NetworkType(chi.URLParam(r, "network"))
	if !t.Valid() {
		writeJSONError(w, http.StatusNotFound, "unknown network type "+strconv.Quote(string(t)))
		return "", false
	}
	return t, true
}

// workerID pins engine workers to devices. Missing or malformed headers
// collapse onto worker 0 rather than failing the request.
func workerID(r *http.Request) uint64 {
	v := r.Header.Get("X-Worker-Id")
	if v == "" {
		return 0
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// handlePredict serves value/policy predictions for one batch.
//
//	@Summary      Predict a batch of positions
//	@Accept       json
//	@Produce      json
//	@Param        network  path  string  true  "teacher or student"
//	@Param        request  body  types.PredictRequest  true  "packed batch"
//	@Success      200  {object}  types.PredictResponse
//	@Failure      400  {object}  types.ErrorResponse
//	@Router       /v1/predict/{network} [post]
func handlePredict(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		networkType, ok := networkParam(w, r)
		if !ok {
			return
		}
		var req types.PredictRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		start := time.Now()
		status, values, policies, err := svc.PredictBatch(networkType, workerID(r), req.Images, req.BatchSize)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		logRequest(r, "predict", start, map[string]string{"network": string(networkType), "status": status.String()})
		writeJSON(w, types.PredictResponse{Status: status.String(), Values: values, Policies: policies})
	}
}

// handleCommentary generates natural-language comments for positions.
//
//	@Summary      Comment on a batch of positions
//	@Accept       json
//	@Produce      json
//	@Param        request  body  types.CommentaryRequest  true  "packed batch"
//	@Success      200  {object}  types.CommentaryResponse
//	@Failure      400  {object}  types.ErrorResponse
//	@Router       /v1/commentary/predict [post]
func handleCommentary(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CommentaryRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		start := time.Now()
		comments, err := svc.PredictCommentaryBatch(req.Images, req.BatchSize)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		logRequest(r, "commentary", start, nil)
		writeJSON(w, types.CommentaryResponse{Comments: comments})
	}
}

// handleTrain advances one network to a target step.
//
//	@Summary      Train a network
//	@Accept       json
//	@Produce      json
//	@Param        network  path  string  true  "teacher or student"
//	@Param        request  body  types.TrainRequest  true  "training run"
//	@Success      204  "trained"
//	@Failure      400  {object}  types.ErrorResponse
//	@Router       /v1/train/{network} [post]
func handleTrain(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		networkType, ok := networkParam(w, r)
		if !ok {
			return
		}
		var req types.TrainRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Step <= 0 {
			writeJSONError(w, http.StatusBadRequest, "step must be positive")
			return
		}
		// Join server base context with request context so shutdown cancels work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		start := time.Now()
		if err := svc.Train(ctx, networkType, req.GameTypes, req.TrainingWindows, req.Step, req.Checkpoint); err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			writeServiceError(w, err)
			return
		}
		logRequest(r, "train", start, map[string]string{"network": string(networkType)})
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleTrainCommentary trains the teacher's commentary models.
//
//	@Summary      Train commentary models
//	@Accept       json
//	@Produce      json
//	@Param        request  body  types.TrainCommentaryRequest  true  "training run"
//	@Success      204  "trained"
//	@Failure      400  {object}  types.ErrorResponse
//	@Router       /v1/train/commentary [post]
func handleTrainCommentary(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.TrainCommentaryRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Step <= 0 {
			writeJSONError(w, http.StatusBadRequest, "step must be positive")
			return
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		start := time.Now()
		if err := svc.TrainCommentary(ctx, req.Step, req.Checkpoint); err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			writeServiceError(w, err)
			return
		}
		logRequest(r, "train commentary", start, nil)
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleLogScalars appends scalars to a network's validation sink.
//
//	@Summary      Log scalar metrics
//	@Accept       json
//	@Produce      json
//	@Param        network  path  string  true  "teacher or student"
//	@Param        request  body  types.LogScalarsRequest  true  "scalars"
//	@Success      204  "logged"
//	@Failure      400  {object}  types.ErrorResponse
//	@Router       /v1/scalars/{network} [post]
func handleLogScalars(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		networkType, ok := networkParam(w, r)
		if !ok {
			return
		}
		var req types.LogScalarsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if len(req.Names) != len(req.Values) {
			writeJSONError(w, http.StatusBadRequest, "names and values must pair up")
			return
		}
		if err := svc.LogScalars(networkType, req.Step, req.Names, req.Values); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleLoadNetwork switches the active network family.
//
//	@Summary      Switch the active network family
//	@Accept       json
//	@Produce      json
//	@Param        request  body  types.LoadNetworkRequest  true  "family name"
//	@Success      204  "switched"
//	@Failure      400  {object}  types.ErrorResponse
//	@Router       /v1/network [post]
func handleLoadNetwork(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.LoadNetworkRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeJSONError(w, http.StatusBadRequest, "name is required")
			return
		}
		if err := svc.LoadNetwork(req.Name); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleNetworkInfo reports checkpoint step and training data counts.
//
//	@Summary      Network info
//	@Produce      json
//	@Param        network  path  string  true  "teacher or student"
//	@Success      200  {object}  types.NetworkInfo
//	@Failure      404  {object}  types.ErrorResponse
//	@Router       /v1/network/{network}/info [get]
func handleNetworkInfo(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		networkType, ok := networkParam(w, r)
		if !ok {
			return
		}
		info, err := svc.NetworkInfo(networkType)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, info)
	}
}

// handleSaveNetwork checkpoints a network's training-side models.
//
//	@Summary      Save a checkpoint
//	@Accept       json
//	@Produce      json
//	@Param        network  path  string  true  "teacher or student"
//	@Param        request  body  types.SaveNetworkRequest  true  "checkpoint step"
//	@Success      204  "saved"
//	@Failure      400  {object}  types.ErrorResponse
//	@Router       /v1/network/{network}/save [post]
func handleSaveNetwork(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		networkType, ok := networkParam(w, r)
		if !ok {
			return
		}
		var req types.SaveNetworkRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Checkpoint <= 0 {
			writeJSONError(w, http.StatusBadRequest, "checkpoint must be positive")
			return
		}
		if err := svc.SaveNetwork(networkType, req.Checkpoint); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleSaveFile writes engine artifacts under the data root.
//
//	@Summary      Save a data file
//	@Accept       json
//	@Produce      json
//	@Param        request  body  types.SaveFileRequest  true  "file"
//	@Success      204  "saved"
//	@Failure      400  {object}  types.ErrorResponse
//	@Router       /v1/files [post]
func handleSaveFile(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.SaveFileRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.RelativePath == "" {
			writeJSONError(w, http.StatusBadRequest, "relative_path is required")
			return
		}
		if err := svc.SaveFile(req.RelativePath, req.Data); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleDecompress densifies one compressed training record.
//
//	@Summary      Decompress a training record
//	@Accept       json
//	@Produce      json
//	@Param        request  body  types.DecompressRequest  true  "compressed record"
//	@Success      200  {object}  types.DecompressResponse
//	@Failure      400  {object}  types.ErrorResponse
//	@Router       /v1/debug/decompress [post]
func handleDecompress(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.DecompressRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		resp, err := svc.DebugDecompress(req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, resp)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}
