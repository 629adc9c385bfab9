package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelcore/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Deployments() []types.Deployment
	SupportedModels(workerType string) []types.ModelMetadata
	Status() types.StatusResponse
	Ready() bool
	GenerateStream(ctx context.Context, req *types.ModelRequest) (<-chan types.ModelOutput, error)
	Generate(ctx context.Context, req *types.ModelRequest) (types.ModelOutput, error)
	CountTokens(ctx context.Context, model, prompt string) (int, error)
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
	ListRemoteModels(ctx context.Context, model string) ([]types.ModelMetadata, error)
	Warm(model string) (string, error)
	Stop(model string) error
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if c := corsMiddleware(); c != nil {
		r.Use(c)
	}
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	h := &handlers{svc: svc}

	// @Summary  List configured deployments
	// @Produce  json
	// @Success  200  {object}  types.DeploymentsResponse
	// @Router   /models [get]
	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.DeploymentsResponse{Models: svc.Deployments()})
	})

	// @Summary  List models the registered adapters recognize
	// @Produce  json
	// @Param    worker_type  query  string  false  "llm or text2vec"
	// @Success  200  {object}  types.SupportedModelsResponse
	// @Router   /models/supported [get]
	r.Get("/models/supported", func(w http.ResponseWriter, r *http.Request) {
		models := svc.SupportedModels(r.URL.Query().Get("worker_type"))
		writeJSON(w, http.StatusOK, types.SupportedModelsResponse{Models: models})
	})

	r.Get("/models/{name}/remote", h.listRemote)
	r.Post("/models/{name}/warm", h.warm)
	r.Post("/models/{name}/stop", h.stop)

	// @Summary  Worker and instance status
	// @Produce  json
	// @Success  200  {object}  types.StatusResponse
	// @Router   /status [get]
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Post("/generate_stream", h.generateStream)
	r.Post("/generate", h.generate)
	r.Post("/count_token", h.countToken)
	r.Post("/embeddings", h.embeddings)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

type handlers struct {
	svc Service
}

// decodeJSON enforces the JSON content type and body limit. It writes the
// error response itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Oversized bodies also land here; the size is not reported back.
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// @Summary  Stream a generation as NDJSON
// @Accept   json
// @Produce  application/x-ndjson
// @Param    request  body      types.ModelRequest  true  "generation request"
// @Success  200      {object}  types.ModelOutput
// @Failure  400      {object}  types.ErrorResponse
// @Failure  404      {object}  types.ErrorResponse
// @Failure  429      {object}  types.ErrorResponse
// @Router   /generate_stream [post]
func (h *handlers) generateStream(w http.ResponseWriter, r *http.Request) {
	var req types.ModelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	lvl := requestLogLevel(r)
	log := requestLogger(r)
	start := time.Now()
	if lvl >= LevelInfo {
		log.Info().Str("path", r.URL.Path).Str("model", req.Model).Msg("generate start")
	}

	// Shutdown of the server base context cancels running generations too.
	ctx, cancel := requestContext(r.Context())
	defer cancel()
	ch, err := h.svc.GenerateStream(ctx, &req)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		status := writeError(w, err)
		if lvl >= LevelError {
			log.Info().Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("generate end")
		}
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	writer := io.Writer(w)
	if lvl >= LevelDebug {
		writer = io.MultiWriter(w, &loggingLineWriter{log: log})
	}
	enc := json.NewEncoder(writer)
	var last types.ModelOutput
	for out := range ch {
		last = out
		if err := enc.Encode(out); err != nil {
			// Client went away; stop generating and let the channel close.
			cancel()
			for range ch {
			}
			return
		}
		streamedOutputs.Inc()
		if flush != nil {
			flush()
		}
	}
	if lvl >= LevelInfo {
		log.Info().Int("status", http.StatusOK).Str("finish_reason", last.FinishReason).
			Int("error_code", last.ErrorCode).Dur("dur", time.Since(start)).Msg("generate end")
	}
}

// @Summary  Run a generation to completion
// @Accept   json
// @Produce  json
// @Param    request  body      types.ModelRequest  true  "generation request"
// @Success  200      {object}  types.ModelOutput
// @Failure  400      {object}  types.ErrorResponse
// @Failure  404      {object}  types.ErrorResponse
// @Failure  429      {object}  types.ErrorResponse
// @Router   /generate [post]
func (h *handlers) generate(w http.ResponseWriter, r *http.Request) {
	var req types.ModelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	lvl := requestLogLevel(r)
	log := requestLogger(r)
	start := time.Now()
	ctx, cancel := requestContext(r.Context())
	defer cancel()
	out, err := h.svc.Generate(ctx, &req)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		status := writeError(w, err)
		if lvl >= LevelError {
			log.Info().Str("model", req.Model).Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("generate end")
		}
		return
	}
	if lvl >= LevelInfo {
		log.Info().Str("model", req.Model).Int("status", http.StatusOK).Dur("dur", time.Since(start)).Msg("generate end")
	}
	writeJSON(w, http.StatusOK, out)
}

// @Summary  Count prompt tokens with the model's tokenizer
// @Accept   json
// @Produce  json
// @Param    request  body      types.CountTokenRequest  true  "prompt"
// @Success  200      {object}  types.CountTokenResponse
// @Failure  404      {object}  types.ErrorResponse
// @Router   /count_token [post]
func (h *handlers) countToken(w http.ResponseWriter, r *http.Request) {
	var req types.CountTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := h.svc.CountTokens(r.Context(), req.Model, req.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.CountTokenResponse{Model: req.Model, Count: n})
}

// @Summary  Embed texts with a text2vec deployment
// @Accept   json
// @Produce  json
// @Param    request  body      types.EmbeddingsRequest  true  "inputs"
// @Success  200      {object}  types.EmbeddingsResponse
// @Failure  400      {object}  types.ErrorResponse
// @Router   /embeddings [post]
func (h *handlers) embeddings(w http.ResponseWriter, r *http.Request) {
	var req types.EmbeddingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Input) == 0 {
		writeJSONError(w, http.StatusBadRequest, "input is required")
		return
	}
	ctx, cancel := requestContext(r.Context())
	defer cancel()
	vecs, err := h.svc.Embed(ctx, req.Model, req.Input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.EmbeddingsResponse{Model: req.Model, Data: vecs})
}

// @Summary  List models served by a proxy deployment's upstream
// @Produce  json
// @Param    name  path      string  true  "deployment name"
// @Success  200   {object}  types.SupportedModelsResponse
// @Failure  503   {object}  types.ErrorResponse
// @Router   /models/{name}/remote [get]
func (h *handlers) listRemote(w http.ResponseWriter, r *http.Request) {
	models, err := h.svc.ListRemoteModels(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SupportedModelsResponse{Models: models})
}

// @Summary  Load a deployment in the background
// @Produce  json
// @Param    name  path      string  true  "deployment name"
// @Success  202   {object}  types.OperationResponse
// @Failure  404   {object}  types.ErrorResponse
// @Router   /models/{name}/warm [post]
func (h *handlers) warm(w http.ResponseWriter, r *http.Request) {
	op, err := h.svc.Warm(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.OperationResponse{Op: op})
}

// @Summary  Drain and unload a deployment
// @Param    name  path  string  true  "deployment name"
// @Success  204
// @Failure  404  {object}  types.ErrorResponse
// @Router   /models/{name}/stop [post]
func (h *handlers) stop(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.svc.Stop(name); err != nil {
		writeError(w, err)
		return
	}
	l := requestLogger(r)
	l.Info().Str("model", name).Msg("stopped")
	w.WriteHeader(http.StatusNoContent)
}
