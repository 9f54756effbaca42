package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/berfenger/zendure2mqtt/internal/core/domain"
	"github.com/berfenger/zendure2mqtt/internal/metrics"
	"github.com/berfenger/zendure2mqtt/internal/util"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMaster answers the requests the HTTP routes send to the master actor.
func fakeMaster(healthy bool) actor.ReceiveFunc {
	mode := domain.OperatingModeOff
	manual := 0
	return func(ctx actor.Context) {
		switch msg := ctx.Message().(type) {
		case domain.ActorHealthRequest:
			ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MASTER, Healthy: healthy})
		case domain.GetDistributionStateRequest:
			ctx.Respond(domain.GetDistributionStateResponse{State: domain.DistributionState{
				Mode:        mode.String(),
				ManualPower: manual,
				Setpoint:    120,
			}})
		case domain.SetOperatingModeRequest:
			changed := mode != msg.Mode
			mode = msg.Mode
			ctx.Respond(domain.SetOperatingModeResponse{Mode: mode, Changed: changed})
		case domain.SetManualPowerRequest:
			manual = msg.PowerWatt
			ctx.Respond(domain.SetManualPowerResponse{PowerWatt: manual})
		case domain.SetHEMSRequest:
			resp := domain.SetHEMSResponse{DeviceId: msg.DeviceId, Status: domain.DeviceStatusActive}
			if msg.DeviceId != "hub1" {
				resp.ResponseError = domain.ErrUnknownDevice
			} else if msg.Enabled {
				resp.Status = domain.DeviceStatusHEMS
			}
			ctx.Respond(resp)
		}
	}
}

func testServer(t *testing.T, healthy bool) (http.Handler, *actor.ActorSystem) {
	as := actor.NewActorSystem()
	pid, err := as.Root.SpawnNamed(actor.PropsFromFunc(fakeMaster(healthy)), "master")
	require.NoError(t, err)

	cfg := util.LoadTestConfig()
	s := &Server{
		port:        cfg.Port,
		rootContext: as.Root,
		masterActor: pid,
		metrics:     metrics.NewMetrics(),
	}
	return s.RegisterRoutes(), as
}

func TestHealthCheck(t *testing.T) {
	handler, as := testServer(t, true)
	defer as.Shutdown()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "health_check: OK", rec.Body.String())

	unhealthy, as2 := testServer(t, false)
	defer as2.Shutdown()

	rec = httptest.NewRecorder()
	unhealthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStateAndMode(t *testing.T) {
	handler, as := testServer(t, true)
	defer as.Shutdown()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var state domain.DistributionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "OFF", state.Mode)
	assert.Equal(t, 120, state.Setpoint)

	req := httptest.NewRequest(http.MethodPut, "/api/mode", strings.NewReader(`{"mode":"manual","manual_power":-300}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"mode":"MANUAL","manual_power":-300,"changed":true}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodPut, "/api/mode", strings.NewReader(`{"mode":"turbo"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPut, "/api/mode", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	handler, as := testServer(t, true)
	defer as.Shutdown()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeviceStatus(t *testing.T) {
	handler, as := testServer(t, true)
	defer as.Shutdown()

	put := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := put("/api/devices/hub1/status", `{"status":"hems"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"hub1","status":"HEMS"}`, rec.Body.String())

	rec = put("/api/devices/hub1/status", `{"status":"AUTO"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"hub1","status":"ACTIVE"}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, put("/api/devices/hub9/status", `{"status":"HEMS"}`).Code)
	assert.Equal(t, http.StatusBadRequest, put("/api/devices/hub1/status", `{"status":"OFFLINE"}`).Code)
}
