package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fleetsim/internal/analytics"
	"fleetsim/internal/fleet"
	"fleetsim/internal/models"
	"fleetsim/internal/simulator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchive struct {
	since  time.Time
	logs   []models.StressTestLog
	alerts map[string]models.Alert
	fail   error
}

func (f *fakeArchive) History(_ context.Context, nodeID string, since time.Time, limit int) ([]models.MetricsSnapshot, error) {
	f.since = since
	return []models.MetricsSnapshot{{NodeID: nodeID, Timestamp: since}}, nil
}

func (f *fakeArchive) StressLogs(_ context.Context, _ string, _ int) ([]models.StressTestLog, error) {
	return f.logs, nil
}

func (f *fakeArchive) Alerts(_ context.Context, _ int, unreadOnly bool) ([]models.Alert, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	out := []models.Alert{}
	for _, a := range f.alerts {
		if !unreadOnly || !a.Read {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeArchive) Alert(_ context.Context, id string) (models.Alert, bool, error) {
	a, ok := f.alerts[id]
	return a, ok, nil
}

func (f *fakeArchive) MarkAlertRead(_ context.Context, id string) (bool, error) {
	a, ok := f.alerts[id]
	if ok {
		a.Read = true
		f.alerts[id] = a
	}
	return ok, nil
}

func (f *fakeArchive) DeleteAlert(_ context.Context, id string) (bool, error) {
	_, ok := f.alerts[id]
	delete(f.alerts, id)
	return ok, nil
}

type badPinger struct{}

func (badPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newTestServer(t *testing.T, opts ...Option) (*Server, *fleet.Service) {
	t.Helper()
	engine := simulator.NewEngine(simulator.WithRand(simulator.NewRand(3)))
	svc := fleet.NewService(engine, analytics.NewAnalyzer(50, 2.0, models.DefaultAlertThresholds()))
	svc.Register(context.Background(), fleet.RegisterRequest{ID: "srv-01", Online: true})
	svc.Register(context.Background(), fleet.RegisterRequest{ID: "srv-02", Online: false})
	return NewServer(svc, opts...), svc
}

func do(t *testing.T, s *Server, method, path string, body interface{}, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(2), body["nodes"])

	s, _ = newTestServer(t, WithRedis(badPinger{}))
	rec = do(t, s, "GET", "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListAndGetNodes(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, "GET", "/nodes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []NodeView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "srv-01", views[0].State.NodeID)
	assert.Equal(t, models.StatusOffline, views[1].Status)

	rec = do(t, s, "GET", "/nodes/srv-01", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, "GET", "/nodes/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterNode(t *testing.T) {
	s, svc := newTestServer(t)

	rec := do(t, s, "POST", "/nodes", map[string]interface{}{"id": "srv-09", "online": true})
	require.Equal(t, http.StatusCreated, rec.Code)
	_, ok := svc.State("srv-09")
	assert.True(t, ok)

	rec = do(t, s, "POST", "/nodes", map[string]interface{}{"online": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStressTestRoutes(t *testing.T) {
	s, svc := newTestServer(t)

	rec := do(t, s, "POST", "/nodes/srv-01/stress-test", map[string]interface{}{"duration_seconds": 120, "intensity": 0.5})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var ev models.StressEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	assert.Equal(t, 120*time.Second, ev.Params.Duration)
	assert.Equal(t, 0.5, ev.Params.Intensity)

	rec = do(t, s, "POST", "/nodes/srv-01/stress-test", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, "POST", "/nodes/srv-02/stress-test", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "offline node")

	rec = do(t, s, "POST", "/nodes/ghost/stress-test", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, "GET", "/nodes/srv-01/stress-tests", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []models.StressTestLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, models.StressRunning, logs[0].Status)

	rec = do(t, s, "DELETE", "/nodes/srv-01/stress-test", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, pending := svc.PendingEvent("srv-01")
	assert.False(t, pending)

	rec = do(t, s, "DELETE", "/nodes/srv-01/stress-test", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStressTest_InvalidDuration(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, "POST", "/nodes/srv-01/stress-test", map[string]interface{}{"duration_seconds": -5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPowerAndBaseline(t *testing.T) {
	s, svc := newTestServer(t)

	rec := do(t, s, "POST", "/nodes/srv-02/power", map[string]bool{"online": true})
	require.Equal(t, http.StatusOK, rec.Code)
	state, _ := svc.State("srv-02")
	assert.True(t, state.Online)

	rec = do(t, s, "POST", "/nodes/ghost/power", map[string]bool{"online": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, "POST", "/nodes/srv-01/baseline", map[string]float64{"cpu_baseline": 60, "ram_baseline": 70},
		"X-User-Email", "ops@example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	var b models.Baseline
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.Equal(t, 60.0, b.CPU)
	assert.Equal(t, "ops@example.com", b.UpdatedBy)
}

func TestAPIKeyGuardsControlRoutes(t *testing.T) {
	s, _ := newTestServer(t, WithAPIKey("secret"))

	rec := do(t, s, "POST", "/nodes/srv-01/power", map[string]bool{"online": false})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, "POST", "/nodes/srv-01/power", map[string]bool{"online": false}, "Authorization", "Bearer secre")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "prefix of the key")

	rec = do(t, s, "POST", "/nodes/srv-01/power", map[string]bool{"online": false}, "Authorization", "secret")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "missing bearer scheme")

	rec = do(t, s, "POST", "/nodes/srv-01/power", map[string]bool{"online": false}, "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, "GET", "/nodes", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "reads stay open")
}

func TestHistory(t *testing.T) {
	s, svc := newTestServer(t)
	_, err := svc.TickAll(context.Background())
	require.NoError(t, err)

	rec := do(t, s, "GET", "/nodes/srv-01/history?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist []models.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Len(t, hist, 1)

	rec = do(t, s, "GET", "/nodes/srv-01/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, "GET", "/nodes/ghost/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistory_SinceUsesArchive(t *testing.T) {
	archive := &fakeArchive{fail: errors.New("db down")}
	s, _ := newTestServer(t, WithArchive(archive))

	rec := do(t, s, "GET", "/nodes/srv-01/history?since=2024-03-04T10:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC), archive.since)

	rec = do(t, s, "GET", "/nodes/srv-01/history?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, "GET", "/alerts/history", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAlertsAndThresholds(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, "GET", "/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = do(t, s, "GET", "/alerts/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, "PUT", "/alerts/thresholds", map[string]float64{"cpu_warning_threshold": 99})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "warning above critical")

	rec = do(t, s, "PUT", "/alerts/thresholds", map[string]float64{"temperature_warning_threshold": 60})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, "GET", "/alerts/thresholds", nil)
	var th models.AlertThresholds
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &th))
	assert.Equal(t, 60.0, th.TemperatureWarning)
	assert.Equal(t, 85.0, th.CPUWarning)

	rec = do(t, s, "GET", "/alerts/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrometheusEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, "GET", "/health", nil)

	rec := do(t, s, "GET", "/metrics/prometheus", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{endpoint="/health",method="GET",status="200"}`)
}

func TestHistoryLatestAndClear(t *testing.T) {
	s, svc := newTestServer(t)

	rec := do(t, s, "GET", "/nodes/srv-01/history/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no reading yet")

	_, err := svc.TickAll(context.Background())
	require.NoError(t, err)

	rec = do(t, s, "GET", "/nodes/srv-01/history/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap models.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "srv-01", snap.NodeID)

	rec = do(t, s, "DELETE", "/nodes/srv-01/history?older_than_hours=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, "DELETE", "/nodes/srv-01/history?older_than_hours=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, "GET", "/nodes/srv-01/history/latest", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "fresh reading kept")

	rec = do(t, s, "DELETE", "/nodes/srv-01/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted_count": 0}`, rec.Body.String())
	rec = do(t, s, "GET", "/nodes/srv-01/history/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, "DELETE", "/nodes/ghost/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, s, "GET", "/nodes/ghost/history/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlertReadAndDelete(t *testing.T) {
	s, svc := newTestServer(t)
	raised := svc.Analyzer().Analyze(models.MetricsSnapshot{
		NodeID: "srv-01", Timestamp: time.Now(), CPUUsage: 97, RAMUsage: 40,
		Temperature: 40, Status: models.StatusOnline,
	})
	require.Len(t, raised, 1)
	id := raised[0].ID

	rec := do(t, s, "GET", "/alerts/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, "GET", "/alerts?unread_only=true", nil)
	var alerts []models.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	assert.Len(t, alerts, 1)

	rec = do(t, s, "PATCH", "/alerts/"+id+"/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Read)

	rec = do(t, s, "GET", "/alerts?unread_only=true", nil)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = do(t, s, "DELETE", "/alerts/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, s, "GET", "/alerts/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, s, "PATCH", "/alerts/"+id+"/read", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, s, "DELETE", "/alerts/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlertFromArchive(t *testing.T) {
	archive := &fakeArchive{alerts: map[string]models.Alert{
		"old":  {ID: "old", NodeID: "srv-02", Level: models.AlertWarning},
		"seen": {ID: "seen", NodeID: "srv-02", Level: models.AlertInfo, Read: true},
	}}
	s, _ := newTestServer(t, WithArchive(archive))

	rec := do(t, s, "GET", "/alerts/old", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, "GET", "/alerts/history?unread_only=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []models.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, "old", alerts[0].ID)

	rec = do(t, s, "PATCH", "/alerts/old/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, archive.alerts["old"].Read)

	rec = do(t, s, "DELETE", "/alerts/seen", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok := archive.alerts["seen"]
	assert.False(t, ok)
}

func TestAlertThresholdsNotShadowedByID(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, "GET", "/alerts/thresholds", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cpu_warning_threshold")
}
