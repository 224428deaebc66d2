package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b0tShaman/neuro-digits/ml"
	"github.com/b0tShaman/neuro-digits/service"
	"github.com/b0tShaman/neuro-digits/store"
)

var quiet = log.New(io.Discard, "", 0)

func newServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	repo := store.NewMemory()
	engine := ml.NewConcurrentEngine(ml.NewEngine(ml.WithSeed(1)), ml.WithLogger(quiet))
	svc := service.New(context.Background(), engine, repo, service.WithLogger(quiet))
	srv := httptest.NewServer(NewHandler(svc, quiet))
	t.Cleanup(srv.Close)
	return srv, repo
}

func image(v int) []int {
	img := make([]int, ml.InputSize)
	for i := range img {
		img[i] = v
	}
	return img
}

func post(t *testing.T, srv *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	resp, err := http.Post(srv.URL+path, "application/json", r)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestPredict(t *testing.T) {
	srv, _ := newServer(t)

	resp := post(t, srv, "/api/predict", PredictRequest{Image: image(200)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	got := decodeBody[PredictResponse](t, resp)
	assert.GreaterOrEqual(t, got.Digit, 0)
	assert.LessOrEqual(t, got.Digit, 9)
	require.Len(t, got.Probabilities, ml.OutputSize)
	assert.Equal(t, got.Probabilities[got.Digit], got.Confidence)
}

func TestPredict_BadRequests(t *testing.T) {
	srv, _ := newServer(t)

	outOfRange := image(0)
	outOfRange[10] = 256

	cases := map[string]any{
		"short image":    PredictRequest{Image: image(1)[:100]},
		"missing image":  map[string]any{},
		"pixel too big":  PredictRequest{Image: outOfRange},
		"negative pixel": PredictRequest{Image: append(image(0)[:783], -1)},
		"malformed json": `{"image": [1, 2`,
		"empty body":     nil,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := post(t, srv, "/api/predict", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			e := decodeBody[errorResponse](t, resp)
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestTrain(t *testing.T) {
	srv, _ := newServer(t)

	for range 3 {
		resp := post(t, srv, "/api/train", TrainRequest{Label: 6, Image: image(180)})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decodeBody[TrainResponse](t, resp)
		assert.Greater(t, got.Loss, 0.0)
	}

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeBody[HealthResponse](t, resp)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, uint64(3), health.TrainSteps)
	assert.Equal(t, uint64(3), health.Generation)
	assert.False(t, health.Loaded)
}

func TestTrain_BadLabel(t *testing.T) {
	srv, _ := newServer(t)
	for _, label := range []int{-1, 10} {
		resp := post(t, srv, "/api/train", TrainRequest{Label: label, Image: image(1)})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "label %d", label)
	}
}

func TestSaveAndLoad(t *testing.T) {
	srv, repo := newServer(t)

	resp := post(t, srv, "/api/model/load", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "nothing saved yet")

	resp = post(t, srv, "/api/model/save", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "saved", decodeBody[statusResponse](t, resp).Status)

	stored, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.NoError(t, stored.Validate())

	resp = post(t, srv, "/api/model/load", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "loaded", decodeBody[statusResponse](t, resp).Status)
}

func TestLoad_BadStoredModel(t *testing.T) {
	srv, repo := newServer(t)
	require.NoError(t, repo.Save(context.Background(), ml.ModelState{B2: []float32{1}}))

	resp := post(t, srv, "/api/model/load", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/api/predict")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ml.ErrInvalidInput, http.StatusBadRequest},
		{ml.ErrSerialization, http.StatusUnprocessableEntity},
		{ml.ErrPersistence, http.StatusServiceUnavailable},
		{ml.ErrInternal, http.StatusInternalServerError},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusFor(c.err), "%v", c.err)
	}
}

func TestRequestErrorsAreInvalidInput(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(`{"image":`))
	var req PredictRequest
	err := decode(httptest.NewRecorder(), r, &req)
	assert.ErrorIs(t, err, ml.ErrInvalidInput)
	assert.Contains(t, err.Error(), "malformed request body")

	_, err = toPixels([]int{0, 12, 300})
	assert.ErrorIs(t, err, ml.ErrInvalidInput)
	assert.Contains(t, err.Error(), "pixel 2 has value 300")
}
