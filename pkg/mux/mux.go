package mux

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/sepich/project-image-cache/pkg/cache"
	"github.com/sepich/project-image-cache/pkg/model"
	"github.com/sepich/project-image-cache/pkg/service"
)

// Project keys are uppercase snake case, ordinals are 1-based.
const (
	projectPattern = "[A-Z0-9]+(?:_[A-Z0-9]+)*"
	ordinalPattern = "[0-9]+"

	maxUploadBytes = 32 << 20
	requestIDKey   = "X-Request-Id"
)

func NewRouter(services service.Service, logger *zap.Logger) *mux.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := mux.NewRouter()
	r.Use(requestID, accessLog(logger))

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/projects", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"projects": services.Projects()})
	}).Methods(http.MethodGet)

	api.HandleFunc("/projects/{key:"+projectPattern+"}/images", func(w http.ResponseWriter, r *http.Request) {
		view, err := services.ProjectImages(r.Context(), mux.Vars(r)["key"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}).Methods(http.MethodGet)

	api.HandleFunc("/projects/{key:"+projectPattern+"}/progress", func(w http.ResponseWriter, r *http.Request) {
		progress, err := services.ProjectProgress(mux.Vars(r)["key"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, progress)
	}).Methods(http.MethodGet)

	api.HandleFunc("/projects/{key:"+projectPattern+"}/images/{ordinal:"+ordinalPattern+"}", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		ordinal, err := strconv.Atoi(vars["ordinal"])
		if err != nil || ordinal < 1 {
			writeJSON(w, http.StatusBadRequest, cache.MutationResult{Error: "ordinal must be a positive integer"})
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, cache.MutationResult{Error: "multipart field `file` is required"})
			return
		}
		defer file.Close()

		err = services.UploadImage(r.Context(), vars["key"], ordinal, cache.ImageFile{
			Name:        header.Filename,
			Body:        file,
			Size:        header.Size,
			ContentType: header.Header.Get("Content-Type"),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cache.MutationResult{Success: true})
	}).Methods(http.MethodPost)

	api.HandleFunc("/projects/{key:"+projectPattern+"}/images/{ordinal:"+ordinalPattern+"}", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		ordinal, err := strconv.Atoi(vars["ordinal"])
		if err != nil || ordinal < 1 {
			writeJSON(w, http.StatusBadRequest, cache.MutationResult{Error: "ordinal must be a positive integer"})
			return
		}
		if err := services.DeleteImage(r.Context(), vars["key"], ordinal); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cache.MutationResult{Success: true})
	}).Methods(http.MethodDelete)

	api.HandleFunc("/cache", func(w http.ResponseWriter, r *http.Request) {
		if err := services.ClearCache(r.Context(), r.URL.Query().Get("project")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrUnknownProject), errors.Is(err, model.ErrImageNotFound), errors.Is(err, service.ErrProgressUnknown):
		code = http.StatusNotFound
	case errors.Is(err, &service.MutationError{}):
		code = http.StatusBadGateway
	}
	writeJSON(w, code, cache.MutationResult{Error: err.Error()})
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDKey)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDKey, id)
		}
		w.Header().Set(requestIDKey, id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func accessLog(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug("handled request",
				zap.String("method", r.Method),
				zap.String("uri", r.RequestURI),
				zap.Int("status", rec.code),
				zap.String("request_id", r.Header.Get(requestIDKey)),
				zap.Duration("took", time.Since(start)))
		})
	}
}
