package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/greenflowstack/greenflow-engine/internal/aggregator"
	"github.com/greenflowstack/greenflow-engine/internal/alerting"
	"github.com/greenflowstack/greenflow-engine/internal/detector"
	"github.com/greenflowstack/greenflow-engine/internal/dispatch"
	"github.com/greenflowstack/greenflow-engine/internal/engine"
	"github.com/greenflowstack/greenflow-engine/internal/models"
	"github.com/greenflowstack/greenflow-engine/internal/services"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	hub := dispatch.NewHub(nil, 64)
	t.Cleanup(hub.Close)

	agg := aggregator.New(nil, aggregator.Options{SkewTolerance: 30 * time.Second})
	det := detector.New(detector.Options{})
	alerts := alerting.NewManager(nil, nil, hub, alerting.Options{})
	eng := engine.New(nil, agg, hub, alerts, engine.Options{
		Risk:       engine.NewRiskModel(40, 55, 75),
		Forecaster: engine.NewForecaster(30*time.Minute, 0.005, 100),
	})
	svc := services.NewTelemetryService(nil, agg, det, alerts, eng, hub, nil, services.Options{})

	srv := httptest.NewServer(NewRouter(nil, svc))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestGetRisk(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/risk")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var score models.RiskScore
	decodeBody(t, resp, &score)
	if score.Value < 0 || score.Value > 100 {
		t.Fatalf("risk value %.2f outside [0,100]", score.Value)
	}
	if score.Level == "" {
		t.Fatalf("risk level missing")
	}
}

func TestGetForecastColdStart(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/forecast")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var forecast models.ForecastResult
	decodeBody(t, resp, &forecast)
	if !forecast.Unavailable {
		t.Fatalf("cold-start forecast should be unavailable")
	}
}

func TestIngestAndListAlerts(t *testing.T) {
	srv := newTestServer(t)
	start := time.Now().UTC().Add(-time.Minute)

	for i := 0; i < 12; i++ {
		resp := postJSON(t, srv.URL+"/api/v1/telemetry", models.Sample{
			Metric:    models.MetricCO2,
			Value:     420,
			Timestamp: start.Add(time.Duration(i) * time.Second),
			SourceID:  "sensor-1",
		})
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("sample %d status = %d, want 202", i, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := postJSON(t, srv.URL+"/api/v1/telemetry", models.Sample{
		Metric:    models.MetricCO2,
		Value:     700,
		Timestamp: start.Add(12 * time.Second),
		SourceID:  "sensor-1",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("spike status = %d, want 202", resp.StatusCode)
	}
	resp.Body.Close()

	listResp, err := http.Get(srv.URL + "/api/v1/alerts?limit=10")
	if err != nil {
		t.Fatalf("get alerts: %v", err)
	}
	var body struct {
		Alerts []models.Alert `json:"alerts"`
		Count  int            `json:"count"`
	}
	decodeBody(t, listResp, &body)
	if body.Count == 0 {
		t.Fatalf("expected at least one alert after spike")
	}
	var foundSpike bool
	for _, alert := range body.Alerts {
		if alert.Type == "co2_spike" {
			foundSpike = true
		}
	}
	if !foundSpike {
		t.Fatalf("co2_spike alert missing from %+v", body.Alerts)
	}
}

func TestIngestRejectsBadPayload(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/telemetry", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestIngestRejectsNonFiniteValue(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/telemetry", "application/json",
		strings.NewReader(`{"metric":"co2","value":"nan","source_id":"s"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSimulateEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/simulate", models.SimulationRequest{
		TrafficReductionPct:  40,
		IndustryReductionPct: 20,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var result models.SimulationResult
	decodeBody(t, resp, &result)
	if result.NewCO2 >= result.BaselineCO2 {
		t.Fatalf("interventions did not reduce CO2: %+v", result)
	}
	if result.Explanation == "" {
		t.Fatalf("explanation missing")
	}
}

func TestSimulateRejectsNegativeLever(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/simulate", models.SimulationRequest{
		TrafficReductionPct: -10,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAlertsRejectsBadLimit(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/alerts?limit=abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStreamDeliversRiskEvents(t *testing.T) {
	srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server a moment to register the subscription.
	time.Sleep(50 * time.Millisecond)

	resp := postJSON(t, srv.URL+"/api/v1/telemetry", models.Sample{
		Metric:    models.MetricCO2,
		Value:     480,
		Timestamp: time.Now().UTC(),
		SourceID:  "sensor-1",
	})
	resp.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event struct {
		Kind string `json:"kind"`
	}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Kind != string(dispatch.EventRisk) && event.Kind != string(dispatch.EventForecast) {
		t.Fatalf("unexpected event kind %q", event.Kind)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/simulate")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}
