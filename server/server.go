// Package server exposes the digit classifier over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/pkg/errors"

	"github.com/b0tShaman/neuro-digits/ml"
	"github.com/b0tShaman/neuro-digits/service"
)

// Classifier is what the handlers need from the service.
type Classifier interface {
	Predict(ctx context.Context, pixels []byte) (ml.Prediction, error)
	Train(ctx context.Context, label int, pixels []byte) (ml.TrainingStepResult, error)
	SaveModel(ctx context.Context) error
	LoadModel(ctx context.Context) error
	Stats() service.Stats
}

type PredictRequest struct {
	Image []int `json:"image"`
}

type PredictResponse struct {
	Digit         int       `json:"digit"`
	Confidence    float64   `json:"confidence"`
	Probabilities []float64 `json:"probabilities"`
}

type TrainRequest struct {
	Label int   `json:"label"`
	Image []int `json:"image"`
}

type TrainResponse struct {
	Loss    float64 `json:"loss"`
	Correct bool    `json:"correct"`
}

type HealthResponse struct {
	Status     string  `json:"status"`
	Generation uint64  `json:"generation"`
	TrainSteps uint64  `json:"train_steps"`
	Correct    uint64  `json:"correct"`
	LastLoss   float64 `json:"last_loss"`
	Loaded     bool    `json:"loaded"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	c      Classifier
	logger *log.Logger
}

// NewHandler routes the API onto c.
func NewHandler(c Classifier, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	h := &handler{c: c, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("POST /api/predict", h.predict)
	mux.HandleFunc("POST /api/train", h.train)
	mux.HandleFunc("POST /api/model/save", h.save)
	mux.HandleFunc("POST /api/model/load", h.load)
	return mux
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	s := h.c.Stats()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Generation: s.Generation,
		TrainSteps: s.TrainSteps,
		Correct:    s.Correct,
		LastLoss:   s.LastLoss,
		Loaded:     s.Loaded,
	})
}

func (h *handler) predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, "predict", err, http.StatusBadRequest)
		return
	}
	pixels, err := toPixels(req.Image)
	if err != nil {
		h.fail(w, "predict", err, http.StatusBadRequest)
		return
	}

	p, err := h.c.Predict(r.Context(), pixels)
	if err != nil {
		h.fail(w, "predict", err, statusFor(err))
		return
	}
	h.logger.Printf("predict digit=%d confidence=%.4f", p.Digit, p.Confidence)
	writeJSON(w, http.StatusOK, PredictResponse{
		Digit:         p.Digit,
		Confidence:    p.Confidence,
		Probabilities: p.Probabilities,
	})
}

func (h *handler) train(w http.ResponseWriter, r *http.Request) {
	var req TrainRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, "train", err, http.StatusBadRequest)
		return
	}
	pixels, err := toPixels(req.Image)
	if err != nil {
		h.fail(w, "train", err, http.StatusBadRequest)
		return
	}

	res, err := h.c.Train(r.Context(), req.Label, pixels)
	if err != nil {
		h.fail(w, "train", err, statusFor(err))
		return
	}
	h.logger.Printf("train label=%d loss=%.4f correct=%t", req.Label, res.Loss, res.Correct)
	writeJSON(w, http.StatusOK, TrainResponse{Loss: res.Loss, Correct: res.Correct})
}

func (h *handler) save(w http.ResponseWriter, r *http.Request) {
	if err := h.c.SaveModel(r.Context()); err != nil {
		h.fail(w, "save", err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "saved"})
}

func (h *handler) load(w http.ResponseWriter, r *http.Request) {
	if err := h.c.LoadModel(r.Context()); err != nil {
		h.fail(w, "load", err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "loaded"})
}

func (h *handler) fail(w http.ResponseWriter, op string, err error, status int) {
	h.logger.Printf("%s failed status=%d: %v", op, status, err)
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ml.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ml.ErrSerialization):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ml.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errors.Wrapf(ml.ErrInvalidInput, "malformed request body: %v", err)
	}
	return nil
}

func toPixels(image []int) ([]byte, error) {
	pixels := make([]byte, len(image))
	for i, v := range image {
		if v < 0 || v > 255 {
			return nil, errors.Wrapf(ml.ErrInvalidInput, "pixel %d has value %d outside 0..255", i, v)
		}
		pixels[i] = byte(v)
	}
	return pixels, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
