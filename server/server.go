// Package server - HTTP face detection service.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-faces/config"
	"github.com/nvr-ai/go-faces/inference"
	"github.com/nvr-ai/go-faces/models/blazeface"
	"github.com/nvr-ai/go-faces/models/model/preprocess"
	"github.com/nvr-ai/go-faces/models/postprocess"
)

// Engine is the detection surface the service needs. *inference.Engine
// implements it.
type Engine interface {
	DetectBytes(ctx context.Context, data []byte) (*inference.Result, error)
	Info() (blazeface.Info, bool)
	Metrics() *inference.Metrics
}

// DetectResponse is the body of a successful POST /v1/detect.
type DetectResponse struct {
	Width      int                     `json:"width"`
	Height     int                     `json:"height"`
	FaceCount  int                     `json:"face_count"`
	Detections []postprocess.Detection `json:"detections"`
	ElapsedMS  float64                 `json:"elapsed_ms"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string          `json:"status"`
	Model  *blazeface.Info `json:"model,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Server serves the detection API.
type Server struct {
	engine Engine
	config config.ServerConfig
	logger logrus.FieldLogger
	router *mux.Router
}

// New creates a server and registers its routes.
//
// Arguments:
//   - engine: The detection engine.
//   - cfg: Listen address, timeouts and the upload limit.
//   - logger: The request logger. Nil uses the logrus standard logger.
//
// Returns:
//   - *Server: The server.
func New(engine Engine, cfg config.ServerConfig, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{engine: engine, config: cfg, logger: logger, router: mux.NewRouter()}

	s.router.HandleFunc("/v1/detect", s.handleDetect).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	s.router.Use(s.logRequests)
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
//
// Arguments:
//   - ctx: Cancel to stop the server.
//
// Returns:
//   - error: The listener error, or nil after a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", srv.Addr).Info("starting server")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"status":  rec.status,
			"elapsed": time.Since(start).String(),
		}).Debug("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	data, err := readImage(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, http.StatusRequestEntityTooLarge, "too_large",
				"image exceeds "+strconv.FormatInt(s.config.MaxBodyBytes, 10)+" bytes")
			return
		}
		s.sendError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(data) == 0 {
		s.sendError(w, http.StatusBadRequest, "invalid_request", "empty image")
		return
	}

	res, err := s.engine.DetectBytes(r.Context(), data)
	switch {
	case errors.Is(err, preprocess.ErrDecode):
		s.sendError(w, http.StatusBadRequest, "invalid_image", err.Error())
		return
	case err != nil:
		s.logger.WithError(err).Error("detection failed")
		s.sendError(w, http.StatusInternalServerError, "processing_error", err.Error())
		return
	}

	s.sendJSON(w, http.StatusOK, DetectResponse{
		Width:      res.Width,
		Height:     res.Height,
		FaceCount:  len(res.Detections),
		Detections: res.Detections,
		ElapsedMS:  float64(res.Elapsed.Microseconds()) / 1e3,
	})
}

// readImage accepts a raw body, a JSON {"image": base64} document or a
// multipart form with a "file" part.
func readImage(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var req struct {
			Image string `json:"image"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, errors.Wrap(err, "decoding request")
		}
		data, err := base64.StdEncoding.DecodeString(req.Image)
		return data, errors.Wrap(err, "decoding base64 image")
	case "multipart/form-data":
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, errors.Wrap(err, "reading form file")
		}
		defer file.Close()
		return io.ReadAll(file)
	default:
		return io.ReadAll(r.Body)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if info, ok := s.engine.Info(); ok {
		resp.Model = &info
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, s.engine.Metrics().Snapshot())
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Warn("writing response")
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, code, message string) {
	s.sendJSON(w, status, ErrorResponse{Code: code, Message: message})
}
