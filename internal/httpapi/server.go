package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/resources"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/pkg/types"
)

// SolutionService defines the model-lifecycle methods required by the HTTP
// API layer.
type SolutionService interface {
	ListPlugins() []types.PluginInfo
	ListModels(ctx context.Context) ([]types.Model, error)
	CreateModel(ctx context.Context, pluginID, nickname, description string) (*types.Model, error)
	FeedTrainData(ctx context.Context, ref string, data map[string]string) error
	Train(ctx context.Context, ref string, params map[string]any, w io.Writer, flush func()) error
	PredictWithIDs(ctx context.Context, ref string, resourceIDs []int64) (types.PredictOutcome, error)
	PredictWithData(ctx context.Context, ref string, names []string, payloads [][]byte) (types.PredictOutcome, error)
}

// ResourceService defines the upload/lookup methods required by the HTTP API
// layer.
type ResourceService interface {
	ListPlugins() []types.PluginInfo
	Upload(ctx context.Context, pluginID string, files []resources.UploadFile) (types.UploadResponse, error)
	GetResource(ctx context.Context, id int64) ([]byte, string, error)
	GetMetadata(ctx context.Context, id int64) (*types.Resource, error)
	ListAll(ctx context.Context) ([]types.Resource, error)
}

// Readiness reports whether the storage backend is reachable.
type Readiness interface {
	Ping(ctx context.Context) error
}

func NewMux(sol SolutionService, res ResourceService, ready Readiness) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/solution_plugins", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, sol.ListPlugins())
	})

	r.Get("/resource_plugins", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, res.ListPlugins())
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		models, err := sol.ListModels(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, models)
	})

	r.Post("/create_model", func(w http.ResponseWriter, r *http.Request) {
		pluginID := r.URL.Query().Get("solutionID")
		if pluginID == "" {
			writeJSONError(w, http.StatusBadRequest, "solutionID is required")
			return
		}
		var req types.CreateModelRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		// Nickname is optional; models without one are addressed by id only.
		rec, err := sol.CreateModel(r.Context(), pluginID, req.Nickname, req.Description)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, types.CreateModelResponse{ID: rec.ID})
	})

	r.Post("/feed_train_data", func(w http.ResponseWriter, r *http.Request) {
		ref := r.URL.Query().Get("modelID")
		if ref == "" {
			writeJSONError(w, http.StatusBadRequest, "modelID is required")
			return
		}
		data := map[string]string{}
		if !decodeJSONBody(w, r, &data) {
			return
		}
		if len(data) == 0 {
			writeJSONError(w, http.StatusBadRequest, "training data must not be empty")
			return
		}
		if err := sol.FeedTrainData(r.Context(), ref, data); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Post("/train_model", func(w http.ResponseWriter, r *http.Request) {
		ref := r.URL.Query().Get("modelID")
		if ref == "" {
			writeJSONError(w, http.StatusBadRequest, "modelID is required")
			return
		}
		params := map[string]any{}
		if r.Body != nil && r.ContentLength != 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
		}

		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		start := time.Now()
		logStart(r, "train_model", ref)

		// Writing the header commits the stream, so state checks happen
		// inside Train before the first progress line is written. Errors
		// returned here have produced no body yet.
		streamCtx, cancel := streamContext(r.Context())
		defer cancel()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := sol.Train(streamCtx, ref, params, w, flush); err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			writeServiceError(w, r, err)
			logEnd(r, "train_model", statusOf(err), start, err)
			return
		}
		logEnd(r, "train_model", http.StatusOK, start, nil)
	})

	r.Post("/predict_w_list", func(w http.ResponseWriter, r *http.Request) {
		ref := r.URL.Query().Get("modelID")
		if ref == "" {
			writeJSONError(w, http.StatusBadRequest, "modelID is required")
			return
		}
		var resourceIDs []int64
		if !decodeJSONBody(w, r, &resourceIDs) {
			return
		}
		if len(resourceIDs) == 0 {
			writeJSONError(w, http.StatusBadRequest, "resource id list must not be empty")
			return
		}
		out, err := sol.PredictWithIDs(r.Context(), ref, resourceIDs)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, out)
	})

	r.Post("/predict", func(w http.ResponseWriter, r *http.Request) {
		ref := r.URL.Query().Get("modelID")
		if ref == "" {
			writeJSONError(w, http.StatusBadRequest, "modelID is required")
			return
		}
		files, ok := readMultipartFiles(w, r)
		if !ok {
			return
		}
		if len(files) == 0 {
			writeJSONError(w, http.StatusBadRequest, "at least one file is required")
			return
		}
		// Same allow-list as /upload; rejected files never reach the plugin.
		names := make([]string, 0, len(files))
		payloads := make([][]byte, 0, len(files))
		for _, f := range files {
			if !resources.FileAllowed(f.Name) {
				logRejectedFile(r, f.Name)
				continue
			}
			names = append(names, f.Name)
			payloads = append(payloads, f.Payload)
		}
		if len(names) == 0 {
			writeJSONError(w, http.StatusBadRequest, "no file with an allowed extension")
			return
		}
		out, err := sol.PredictWithData(r.Context(), ref, names, payloads)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, out)
	})

	r.Post("/upload", func(w http.ResponseWriter, r *http.Request) {
		files, ok := readMultipartFiles(w, r)
		if !ok {
			return
		}
		pluginID := r.FormValue("plugin_name")
		if pluginID == "" {
			writeJSONError(w, http.StatusBadRequest, "plugin_name is required")
			return
		}
		if len(files) == 0 {
			writeJSONError(w, http.StatusBadRequest, "at least one file is required")
			return
		}
		resp, err := res.Upload(r.Context(), pluginID, files)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, resp)
	})

	r.Get("/get_resource/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		payload, mimeType, err := res.GetResource(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", mimeType)
		w.Write(payload)
	})

	r.Get("/get_resource_metadata/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		meta, err := res.GetMetadata(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, meta)
	})

	r.Get("/get_resource_list", func(w http.ResponseWriter, r *http.Request) {
		list, err := res.ListAll(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, list)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready == nil || ready.Ping(r.Context()) == nil {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("storage unavailable"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

// decodeJSONBody enforces the JSON content type and body-size limit; on
// failure it has already written the error response.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
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

// readMultipartFiles parses a multipart form and collects every file part,
// regardless of field name. On failure it has already written the error.
func readMultipartFiles(w http.ResponseWriter, r *http.Request) ([]resources.UploadFile, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid multipart form")
		return nil, false
	}
	var files []resources.UploadFile
	for _, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "failed to read uploaded file "+fh.Filename)
				return nil, false
			}
			payload, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "failed to read uploaded file "+fh.Filename)
				return nil, false
			}
			files = append(files, resources.UploadFile{
				Name:    fh.Filename,
				Payload: payload,
				Mime:    fh.Header.Get("Content-Type"),
			})
		}
	}
	return files, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "resource id must be numeric")
		return 0, false
	}
	return id, true
}
