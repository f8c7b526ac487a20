package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titanic-predictor/internal/features"
	"titanic-predictor/internal/metrics"
	"titanic-predictor/internal/ml"
	"titanic-predictor/internal/storage"
)

func testBundle(t *testing.T) *storage.Bundle {
	t.Helper()
	var x [][]float64
	var y []int
	for i := 0; i < 120; i++ {
		rec := features.Record{
			Pclass: i%3 + 1,
			Sex:    []string{"male", "female"}[i%2],
			Age:    float64(2 + (i*7)%70),
			SibSp:  i % 4,
			Fare:   float64(5 + (i*13)%90),
		}
		row, err := features.Encode(rec)
		require.NoError(t, err)
		x = append(x, row)
		label := features.ClassDidNotSurvive
		if rec.Sex == "female" || rec.Age < 10 {
			label = features.ClassSurvived
		}
		y = append(y, label)
	}

	scaler := ml.NewStandardScaler()
	require.NoError(t, scaler.Fit(x))
	scaled, err := scaler.Transform(x)
	require.NoError(t, err)
	forest := ml.NewRandomForest(ml.WithEstimators(15))
	require.NoError(t, forest.Fit(scaled, y))

	return &storage.Bundle{Forest: forest, Scaler: scaler, Features: features.Names(), Manifest: storage.NewManifest()}
}

type fixture struct {
	srv     *Server
	store   *storage.Store
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, withModel bool, cfg Config) *fixture {
	t.Helper()
	store := storage.New(t.TempDir())
	if withModel {
		require.NoError(t, store.Save(testBundle(t)))
	}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	return &fixture{srv: New(cfg, store, m), store: store, metrics: m}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

const thirdClassMale = `{"Pclass":3,"Sex":"Male","Age":25,"SibSp":1,"Fare":7.25}`

func TestHealth(t *testing.T) {
	loaded := newFixture(t, true, Config{})
	w := loaded.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"status": "OK", "model_status": "loaded"}, decode(t, w))

	empty := newFixture(t, false, Config{})
	w = empty.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "not loaded", decode(t, w)["model_status"])
}

func TestPredict_Success(t *testing.T) {
	f := newFixture(t, true, Config{})
	w := f.do(t, http.MethodPost, "/predict", thirdClassMale)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Contains(t, features.Labels(), body["prediction"])
	confidence := body["confidence"].(float64)
	assert.GreaterOrEqual(t, confidence, 50.0)
	assert.LessOrEqual(t, confidence, 100.0)

	probs := body["probabilities"].(map[string]interface{})
	require.Len(t, probs, 2)
	assert.InDelta(t, 100.0, probs[features.LabelSurvived].(float64)+probs[features.LabelDidNotSurvive].(float64), 0.01)

	input := body["input_features"].(map[string]interface{})
	assert.Equal(t, "male", input["Sex"])
	assert.Equal(t, 7.25, input["Fare"])

	assert.NotEmpty(t, body["request_id"])
	assert.Equal(t, body["request_id"], w.Header().Get(requestIDHeader))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PredictionsTotal.WithLabelValues(body["prediction"].(string))))
}

func TestPredict_FirstClassFemale(t *testing.T) {
	f := newFixture(t, true, Config{})
	w := f.do(t, http.MethodPost, "/predict", `{"Pclass":1,"Sex":"female","Age":35,"SibSp":0,"Fare":72.00}`)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestPredict_BadInput(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"missing age", `{"Pclass":3,"Sex":"male","SibSp":1,"Fare":7.25}`, "Age"},
		{"missing pclass", `{"Sex":"male","Age":25,"SibSp":1,"Fare":7.25}`, "Pclass"},
		{"null fare", `{"Pclass":3,"Sex":"male","Age":25,"SibSp":1,"Fare":null}`, "Fare"},
		{"class out of range", `{"Pclass":4,"Sex":"male","Age":25,"SibSp":1,"Fare":7.25}`, "Pclass"},
		{"unknown sex", `{"Pclass":3,"Sex":"other","Age":25,"SibSp":1,"Fare":7.25}`, "Sex"},
		{"too old", `{"Pclass":3,"Sex":"male","Age":121,"SibSp":1,"Fare":7.25}`, "Age"},
		{"negative fare", `{"Pclass":3,"Sex":"male","Age":25,"SibSp":1,"Fare":-0.01}`, "Fare"},
		{"fractional class", `{"Pclass":2.5,"Sex":"male","Age":25,"SibSp":1,"Fare":7.25}`, "Pclass"},
		{"malformed json", `{"Pclass":3,`, ""},
		{"wrong type", `{"Pclass":"third","Sex":"male","Age":25,"SibSp":1,"Fare":7.25}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true, Config{})
			w := f.do(t, http.MethodPost, "/predict", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)

			body := decode(t, w)
			assert.NotEmpty(t, body["error"])
			if tt.wantField != "" {
				assert.Equal(t, tt.wantField, body["field"])
				assert.Contains(t, body["error"], tt.wantField)
			}
			label := tt.wantField
			if label == "" {
				label = "body"
			}
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.InvalidInputs.WithLabelValues(label)))
		})
	}
}

func TestPredict_IntegralFloatFields(t *testing.T) {
	f := newFixture(t, true, Config{})
	w := f.do(t, http.MethodPost, "/predict", `{"Pclass":3.0,"Sex":"male","Age":25,"SibSp":1.0,"Fare":7.25}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	input := decode(t, w)["input_features"].(map[string]interface{})
	assert.Equal(t, 3.0, input["Pclass"])
	assert.Equal(t, 1.0, input["SibSp"])
}

func TestPredict_Unavailable(t *testing.T) {
	f := newFixture(t, false, Config{})
	w := f.do(t, http.MethodPost, "/predict", thirdClassMale)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "model not available", decode(t, w)["error"])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.UnavailableTotal))
}

func TestPredict_Cache(t *testing.T) {
	f := newFixture(t, true, Config{CacheSize: 8})

	first := f.do(t, http.MethodPost, "/predict", thirdClassMale)
	require.Equal(t, http.StatusOK, first.Code)
	// Same passenger after normalization.
	second := f.do(t, http.MethodPost, "/predict", strings.Replace(thirdClassMale, "Male", " male", 1))
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheHits))

	a, b := decode(t, first), decode(t, second)
	assert.Equal(t, a["prediction"], b["prediction"])
	assert.Equal(t, a["probabilities"], b["probabilities"])
	assert.NotEqual(t, a["request_id"], b["request_id"])
}

func TestPredict_RateLimited(t *testing.T) {
	f := newFixture(t, true, Config{RateLimit: 0.001, RateBurst: 1})

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/predict", thirdClassMale).Code)
	w := f.do(t, http.MethodPost, "/predict", thirdClassMale)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RateLimitedTotal))

	// Only /predict is limited.
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "").Code)
}

func TestModelInfo(t *testing.T) {
	f := newFixture(t, true, Config{})
	w := f.do(t, http.MethodGet, "/model/info", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, true, body["available"])
	assert.Equal(t, []interface{}{"Pclass", "Sex", "Age", "SibSp", "Fare"}, body["features"])
	assert.Equal(t, float64(features.Count()), body["scaler_parameters"])
	assert.Equal(t, 15.0, body["trees"])
	assert.Contains(t, body, "manifest")
}

func TestReload(t *testing.T) {
	f := newFixture(t, false, Config{})
	assert.False(t, f.srv.Service().Available())

	w := f.do(t, http.MethodPost, "/admin/reload", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decode(t, w)["error"], "artifact")

	require.NoError(t, f.store.Save(testBundle(t)))
	w = f.do(t, http.MethodPost, "/admin/reload", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, f.srv.Service().Available())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ModelLoaded))

	// A broken file does not take the loaded model down.
	require.NoError(t, os.WriteFile(f.store.Path(), []byte("garbage"), 0o600))
	w = f.do(t, http.MethodPost, "/admin/reload", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.True(t, f.srv.Service().Available())
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/predict", thirdClassMale).Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReloadsTotal.WithLabelValues("success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.ReloadsTotal.WithLabelValues("failure")))
}

func TestReload_ResetsCache(t *testing.T) {
	f := newFixture(t, true, Config{CacheSize: 8})
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/predict", thirdClassMale).Code)
	require.NoError(t, f.srv.Reload())
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/predict", thirdClassMale).Code)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.CacheMisses))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.CacheHits))
}

func TestPredict_DriftMonitoring(t *testing.T) {
	f := newFixture(t, true, Config{DriftWindow: 30, DriftThreshold: 0.1})

	body := `{"Pclass":1,"Sex":"female","Age":80,"SibSp":0,"Fare":500}`
	for i := 0; i < 30; i++ {
		require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/predict", body).Code)
	}

	assert.Greater(t, testutil.ToFloat64(f.metrics.InputDrift.WithLabelValues(features.Fare)), 0.1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DriftAlerts.WithLabelValues(features.Fare, "critical")))

	// A reload starts a fresh window.
	require.NoError(t, f.srv.Reload())
	assert.Equal(t, 0, testutil.CollectAndCount(f.metrics.InputDrift))
}

func TestUnknownRoutes(t *testing.T) {
	f := newFixture(t, true, Config{})

	w := f.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "endpoint not found", decode(t, w)["error"])

	w = f.do(t, http.MethodGet, "/predict", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "method not allowed", decode(t, w)["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, true, Config{})
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/predict", thirdClassMale).Code)

	w := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `titanic_http_requests_total{code="200",route="predict"} 1`)
	assert.Contains(t, w.Body.String(), "titanic_model_loaded 1")
}

func TestRequestIDPropagated(t *testing.T) {
	f := newFixture(t, true, Config{})
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, r)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestCORS(t *testing.T) {
	f := newFixture(t, true, Config{CORSOrigins: []string{"http://example.com"}})
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, r)
	assert.Equal(t, "http://example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoverJSON(t *testing.T) {
	f := newFixture(t, false, Config{})
	h := f.srv.recoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decode(t, w)["error"])
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestWatchArtifacts(t *testing.T) {
	f := newFixture(t, false, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.srv.WatchArtifacts(ctx) }()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, f.store.Save(testBundle(t)))
	require.Eventually(t, func() bool { return f.srv.Service().Available() }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestStartShutdown(t *testing.T) {
	f := newFixture(t, true, Config{Addr: "127.0.0.1:0"})
	errc := make(chan error, 1)
	go func() { errc <- f.srv.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.srv.Shutdown(ctx))
	assert.NoError(t, <-errc)
}
