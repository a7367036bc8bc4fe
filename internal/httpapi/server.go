package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/roach88/lotkeep/internal/engine"
	"github.com/roach88/lotkeep/internal/model"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Attendant is the facility surface the API drives.
type Attendant interface {
	Name() string
	Capacity() int
	Online() bool
	Refresh(ctx context.Context) (engine.View, error)
	Pending(ctx context.Context) ([]model.QueueItem, error)
	Sync(ctx context.Context) (engine.PassResult, error)
	CheckIn(ctx context.Context, req engine.CheckInRequest) (engine.CheckInResult, error)
	CheckOut(ctx context.Context, ref string) (engine.CheckOutResult, error)
	CurrentOffer() (engine.Offer, bool)
	PromotionState() engine.PromotionState
	AcceptOffer(ctx context.Context) (engine.AcceptResult, error)
	RejectOffer(ctx context.Context) (engine.RejectResult, error)
}

// Server serves the attendant API.
type Server struct {
	facility Attendant
	logger   *slog.Logger
}

// NewServer creates a Server. A nil logger falls back to slog.Default.
func NewServer(f Attendant, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{facility: f, logger: logger.With("component", "httpapi")}
}

// Routes returns the bare router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/v1", func(r chi.Router) {
		r.Get("/view", s.GetView)
		r.Post("/checkins", s.CheckIn)
		r.Post("/sessions/{ref}/checkout", s.CheckOut)
		r.Get("/promotion", s.GetPromotion)
		r.Post("/promotion/accept", s.AcceptPromotion)
		r.Post("/promotion/reject", s.RejectPromotion)
		r.Post("/sync", s.Sync)
		r.Get("/queue", s.ListQueue)
	})
	return r
}

// Handler returns the router wrapped with request logging and tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(LoggingMiddleware(s.logger, s.Routes()), "lotkeep")
}

type viewResponse struct {
	Facility       string      `json:"facility"`
	Online         bool        `json:"online"`
	Capacity       int         `json:"capacity"`
	AvailableSlots int         `json:"available_slots"`
	Promotion      string      `json:"promotion"`
	View           engine.View `json:"view"`
}

func (s *Server) GetView(w http.ResponseWriter, r *http.Request) {
	view, err := s.facility.Refresh(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewResponse{
		Facility:       s.facility.Name(),
		Online:         s.facility.Online(),
		Capacity:       s.facility.Capacity(),
		AvailableSlots: engine.AvailableSlots(view, s.facility.Capacity()),
		Promotion:      s.facility.PromotionState().String(),
		View:           view,
	})
}

type checkInRequest struct {
	Plate     string `json:"plate"`
	Make      string `json:"make"`
	Model     string `json:"model"`
	Color     string `json:"color"`
	Attendant string `json:"attendant"`
}

func (s *Server) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.facility.CheckIn(r.Context(), engine.CheckInRequest{
		Plate:     req.Plate,
		Vehicle:   model.Vehicle{Make: req.Make, Model: req.Model, Color: req.Color},
		Attendant: req.Attendant,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Decision == engine.DecisionWaitlist {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (s *Server) CheckOut(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	res, err := s.facility.CheckOut(r.Context(), ref)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type promotionResponse struct {
	State string        `json:"state"`
	Offer *engine.Offer `json:"offer,omitempty"`
}

func (s *Server) GetPromotion(w http.ResponseWriter, r *http.Request) {
	resp := promotionResponse{State: s.facility.PromotionState().String()}
	if offer, ok := s.facility.CurrentOffer(); ok {
		resp.Offer = &offer
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) AcceptPromotion(w http.ResponseWriter, r *http.Request) {
	res, err := s.facility.AcceptOffer(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) RejectPromotion(w http.ResponseWriter, r *http.Request) {
	res, err := s.facility.RejectOffer(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) Sync(w http.ResponseWriter, r *http.Request) {
	res, err := s.facility.Sync(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type queueResponse struct {
	Items []model.QueueItem `json:"items"`
}

func (s *Server) ListQueue(w http.ResponseWriter, r *http.Request) {
	items, err := s.facility.Pending(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queueResponse{Items: items})
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeEngineError maps an engine error onto a status code. Admission
// errors carry their own message; everything else is reported generically
// and logged.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	kind := engine.ErrorKind(err)
	var status int
	switch {
	case engine.IsAlreadyCheckedIn(err), errors.Is(err, engine.ErrNoOffer):
		status = http.StatusConflict
	case engine.IsValidation(err):
		status = http.StatusUnprocessableEntity
	case engine.IsSessionNotActive(err):
		status = http.StatusNotFound
	case kind == "canceled":
		status = http.StatusServiceUnavailable
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err, "kind", kind)
		writeError(w, http.StatusInternalServerError, kind, "internal error")
		return
	}

	message := err.Error()
	var ae *engine.AdmissionError
	if errors.As(err, &ae) {
		message = ae.Message
	}
	writeError(w, status, kind, message)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: responseError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
