package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/berfenger/zendure2mqtt/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type modeRequest struct {
	Mode        string `json:"mode"`
	ManualPower *int   `json:"manual_power"`
}

type modeResponse struct {
	Mode        string `json:"mode"`
	ManualPower int    `json:"manual_power"`
	Changed     bool   `json:"changed"`
}

type deviceStatusRequest struct {
	Status string `json:"status"`
}

type deviceStatusResponse struct {
	Id     string `json:"id"`
	Status string `json:"status"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/api/state", s.StateHandler)
	e.PUT("/api/mode", s.ModeHandler)
	e.PUT("/api/devices/:id/status", s.DeviceStatusHandler)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) StateHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetDistributionStateRequest{}, 5*time.Second).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.GetDistributionStateResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	return c.JSON(http.StatusOK, response.State)
}

// ModeHandler switches the operating mode. An empty mode only updates the manual power.
func (s *Server) ModeHandler(c echo.Context) error {
	var req modeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Mode == "" && req.ManualPower == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "mode or manual_power required")
	}

	var resp modeResponse
	if req.ManualPower != nil {
		res, err := s.rootContext.RequestFuture(s.masterActor, domain.SetManualPowerRequest{PowerWatt: *req.ManualPower}, 5*time.Second).Result()
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		if r, ok := res.(domain.SetManualPowerResponse); ok {
			resp.ManualPower = r.PowerWatt
		}
	}
	if req.Mode != "" {
		mode, err := domain.ParseOperatingMode(req.Mode)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		res, err := s.rootContext.RequestFuture(s.masterActor, domain.SetOperatingModeRequest{Mode: mode}, 5*time.Second).Result()
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		if r, ok := res.(domain.SetOperatingModeResponse); ok {
			resp.Changed = r.Changed
		}
	}

	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetDistributionStateRequest{}, 5*time.Second).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	if r, ok := res.(domain.GetDistributionStateResponse); ok {
		resp.Mode = r.State.Mode
		resp.ManualPower = r.State.ManualPower
	}
	return c.JSON(http.StatusOK, resp)
}

// DeviceStatusHandler hands a device to an external energy manager with status
// HEMS, or returns it to automatic status evaluation with status AUTO.
func (s *Server) DeviceStatusHandler(c echo.Context) error {
	var req deviceStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var enabled bool
	switch strings.ToUpper(req.Status) {
	case domain.DeviceStatusHEMS.String():
		enabled = true
	case "AUTO":
		enabled = false
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "status must be HEMS or AUTO")
	}

	res, err := s.rootContext.RequestFuture(s.masterActor, domain.SetHEMSRequest{DeviceId: c.Param("id"), Enabled: enabled}, 5*time.Second).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	r, ok := res.(domain.SetHEMSResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	if r.HasResponseError() {
		if errors.Is(r.GetResponseError(), domain.ErrUnknownDevice) {
			return echo.NewHTTPError(http.StatusNotFound, r.GetResponseError().Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, r.GetResponseError().Error())
	}
	return c.JSON(http.StatusOK, deviceStatusResponse{Id: r.DeviceId, Status: r.Status.String()})
}
