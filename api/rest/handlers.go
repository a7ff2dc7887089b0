package rest

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"yqhp/load-engine/pkg/controlsurface"
)

// healthCheck handles GET /health.
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// listRuns handles GET /v1/runs.
func (s *Server) listRuns(c *fiber.Ctx) error {
	return c.JSON(RunsResponse{Runs: controlsurface.List()})
}

// resolveRun finds the control surface addressed by the request: the :id route
// parameter, then ?run_id=, then the only active run.
func resolveRun(c *fiber.Ctx) (*controlsurface.ControlSurface, error) {
	id := c.Params("id")
	if id == "" {
		id = c.Query("run_id")
	}
	if id != "" {
		if cs := controlsurface.Get(id); cs != nil {
			return cs, nil
		}
		return nil, fiber.NewError(fiber.StatusNotFound, "run not found: "+id)
	}

	ids := controlsurface.List()
	switch len(ids) {
	case 0:
		return nil, fiber.NewError(fiber.StatusNotFound, "no active run")
	case 1:
		if cs := controlsurface.Get(ids[0]); cs != nil {
			return cs, nil
		}
		return nil, fiber.NewError(fiber.StatusNotFound, "no active run")
	default:
		return nil, fiber.NewError(fiber.StatusBadRequest, "several runs are active, pass run_id")
	}
}

func runStatus(cs *controlsurface.ControlSurface) *controlsurface.ExecutionStatus {
	if cs.GetStatus != nil {
		return cs.GetStatus()
	}
	return &controlsurface.ExecutionStatus{RunID: cs.RunID, Status: "unknown"}
}

// getStatus handles GET /v1/status.
func (s *Server) getStatus(c *fiber.Ctx) error {
	cs, err := resolveRun(c)
	if err != nil {
		return err
	}
	return c.JSON(runStatus(cs))
}

// patchStatus handles PATCH /v1/status. Only {"stopped": true} is supported.
func (s *Server) patchStatus(c *fiber.Ctx) error {
	cs, err := resolveRun(c)
	if err != nil {
		return err
	}

	var req PatchStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.Stopped != nil && *req.Stopped {
		if err := stop(cs); err != nil {
			return err
		}
	}
	return c.JSON(runStatus(cs))
}

// stopRun handles POST /v1/stop.
func (s *Server) stopRun(c *fiber.Ctx) error {
	cs, err := resolveRun(c)
	if err != nil {
		return err
	}
	if err := stop(cs); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(SuccessResponse{
		Success: true,
		Message: "stop requested for run " + cs.RunID,
	})
}

func stop(cs *controlsurface.ControlSurface) error {
	if cs.StopExecution == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "run cannot be stopped")
	}
	if err := cs.StopExecution(); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return nil
}

// getMetrics handles GET /v1/metrics.
func (s *Server) getMetrics(c *fiber.Ctx) error {
	cs, err := resolveRun(c)
	if err != nil {
		return err
	}
	if cs.MetricsEngine == nil {
		return c.JSON(fiber.Map{})
	}
	return c.JSON(cs.MetricsEngine.BuildRealtimeMetrics(runStatus(cs).Status, getter(cs.GetVUs), getter(cs.GetIterations)))
}

// getTimeSeries handles GET /v1/timeseries.
func (s *Server) getTimeSeries(c *fiber.Ctx) error {
	cs, err := resolveRun(c)
	if err != nil {
		return err
	}
	if cs.MetricsEngine == nil {
		return c.JSON([]any{})
	}
	return c.JSON(cs.MetricsEngine.GetTimeSeriesData())
}

func getter(fn func() int64) func() int64 {
	if fn == nil {
		return func() int64 { return 0 }
	}
	return fn
}
