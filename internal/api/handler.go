package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/embedgate/internal/embedding"
	"github.com/nidhogg/embedgate/internal/embederr"
	"github.com/nidhogg/embedgate/internal/metrics"
	"github.com/nidhogg/embedgate/internal/registry"
	"github.com/nidhogg/embedgate/internal/router"
)

// maxBodyBytes bounds request bodies; images travel by reference.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	router   *router.Router
	registry *registry.Registry
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewHandler creates a new API handler. metrics may be nil.
func NewHandler(rt *router.Router, reg *registry.Registry, m *metrics.Metrics, logger *zap.Logger) *Handler {
	return &Handler{router: rt, registry: reg, metrics: m, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
	}))

	r.Get("/health", h.healthCheck)
	r.Get("/spaces", h.listSpaces)
	r.Handle("/metrics", h.metrics.Handler())

	r.Route("/embed", func(r chi.Router) {
		r.Post("/text", h.embedText)
		r.Post("/text/{space}", h.embedText)
		r.Post("/image", h.embedImage)
	})

	return r
}

type healthResponse struct {
	Status       string   `json:"status"`
	ModelsLoaded int      `json:"models_loaded"`
	Spaces       []string `json:"spaces"`
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	all := h.registry.AllSpaces()
	ids := make([]string, len(all))
	for i, s := range all {
		ids[i] = s.ID
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "healthy",
		ModelsLoaded: len(h.registry.Models()),
		Spaces:       ids,
	})
}

type spaceInfo struct {
	ID         string               `json:"id"`
	Dimensions int                  `json:"dimensions"`
	Modalities []embedding.Modality `json:"modalities"`
	Backend    string               `json:"backend"`
}

func (h *Handler) listSpaces(w http.ResponseWriter, r *http.Request) {
	all := h.registry.AllSpaces()
	out := make([]spaceInfo, len(all))
	for i, s := range all {
		out[i] = spaceInfo{
			ID:         s.ID,
			Dimensions: s.Dims,
			Modalities: s.Modalities,
			Backend:    s.Backend.Model().ID(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type hintBody struct {
	Query bool `json:"query"`
}

type textRequest struct {
	Text      string    `json:"text"`
	Space     string    `json:"space"`
	Spaces    []string  `json:"spaces"`
	Hint      *hintBody `json:"hint"`
	AddPrefix bool      `json:"add_prefix"`
	TimeoutMS int       `json:"timeout_ms"`
}

func (h *Handler) embedText(w http.ResponseWriter, r *http.Request) {
	var body textRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if s := chi.URLParam(r, "space"); s != "" {
		if body.Space != "" || len(body.Spaces) > 0 {
			h.writeError(w, r, embederr.BadRequest("space is given by the path"))
			return
		}
		body.Space = s
	}
	if body.TimeoutMS < 0 {
		h.writeError(w, r, embederr.BadRequest("timeout_ms must not be negative"))
		return
	}

	req := router.TextRequest{
		Text:    body.Text,
		Space:   body.Space,
		Spaces:  body.Spaces,
		Hint:    embedding.Hint{Query: body.AddPrefix || (body.Hint != nil && body.Hint.Query)},
		Timeout: time.Duration(body.TimeoutMS) * time.Millisecond,
	}
	resp, err := h.router.EmbedText(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type imageRequest struct {
	Reference string   `json:"reference"`
	Filename  string   `json:"filename"`
	Space     string   `json:"space"`
	Spaces    []string `json:"spaces"`
	TimeoutMS int      `json:"timeout_ms"`
}

func (h *Handler) embedImage(w http.ResponseWriter, r *http.Request) {
	var body imageRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if body.Reference == "" {
		body.Reference = body.Filename
	}
	if body.TimeoutMS < 0 {
		h.writeError(w, r, embederr.BadRequest("timeout_ms must not be negative"))
		return
	}

	resp, err := h.router.EmbedImage(r.Context(), router.ImageRequest{
		Reference: body.Reference,
		Space:     body.Space,
		Spaces:    body.Spaces,
		Timeout:   time.Duration(body.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeBody reads a single JSON value. An empty body is treated as {}.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return bodyError(err)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			return embederr.BadRequest("invalid JSON body: unexpected data after the first value")
		}
		return bodyError(err)
	}
	return nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return embederr.TooLarge(tooLarge.Limit)
	}
	return embederr.BadRequest("invalid JSON body: " + err.Error())
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind embederr.Kind) int {
	switch kind {
	case embederr.KindUnknownSpace, embederr.KindUnsupportedModality,
		embederr.KindInvalidReference, embederr.KindBadRequest:
		return http.StatusBadRequest
	case embederr.KindNotFound:
		return http.StatusNotFound
	case embederr.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case embederr.KindDecode:
		return http.StatusUnsupportedMediaType
	case embederr.KindDegenerateVector:
		return http.StatusUnprocessableEntity
	case embederr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := embederr.KindOf(err)
	status := StatusFor(kind)
	msg := err.Error()
	if kind == embederr.KindInternal {
		// Backend details stay in the logs.
		msg = "internal embedding failure"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
