// Package httpapi implements the Request Surface (C6): it parses
// ValidateSeries/ValidateSpatial requests, applies the boundary
// validations and defaulting spec.md §4.6/§8 assign to the surface, and
// streams the Scheduler's result events back as newline-delimited JSON.
// It applies no business logic of its own. Grounded on the teacher's
// internal/api/http/routes.go (Fiber route group + go-playground/validator
// request structs); the streaming response uses fasthttp's
// SetBodyStreamWriter, already part of the teacher's fiber/fasthttp stack.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/go-playground/validator/v10"

	"github.com/halvorsveen/rove/internal/catalog"
	"github.com/halvorsveen/rove/internal/dataswitch"
	"github.com/halvorsveen/rove/internal/flag"
	"github.com/halvorsveen/rove/internal/pool"
	"github.com/halvorsveen/rove/internal/roveerr"
	"github.com/halvorsveen/rove/internal/scheduler"
)

var validate = validator.New()

// ValidateSeriesRequest is the wire shape of spec.md §6's
// ValidateSeriesRequest.
type ValidateSeriesRequest struct {
	SeriesID  string     `json:"series_id" validate:"required"`
	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Tests     []string   `json:"tests" validate:"required,min=1,dive,required"`
}

// ValidateSpatialRequest is the wire shape of spec.md §6's
// ValidateSpatialRequest.
type ValidateSpatialRequest struct {
	SpatialID      string                `json:"spatial_id" validate:"required"`
	BackingSources []string              `json:"backing_sources" validate:"dive,required"`
	Time           time.Time             `json:"time" validate:"required"`
	Tests          []string              `json:"tests" validate:"required,min=1,dive,required"`
	Polygon        []dataswitch.GeoPoint `json:"polygon"`
}

type seriesFlagPoint struct {
	Time time.Time `json:"time"`
	Flag flag.Flag `json:"flag"`
}

// ValidateSeriesResponse is one streamed item of spec.md §6's
// ValidateSeriesResponse: the flags one completed test assigned across
// the requested series.
type ValidateSeriesResponse struct {
	Test    string            `json:"test"`
	Results []seriesFlagPoint `json:"results"`
}

type spatialFlagPoint struct {
	Location dataswitch.GeoPoint `json:"location"`
	Flag     flag.Flag           `json:"flag"`
}

// ValidateSpatialResponse is one streamed item of spec.md §6's
// ValidateSpatialResponse.
type ValidateSpatialResponse struct {
	Test    string             `json:"test"`
	Results []spatialFlagPoint `json:"results"`
}

type streamErrorLine struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Server holds the shared resources the Request Surface needs to
// validate, default, and dispatch requests. It carries no state of its
// own between requests.
type Server struct {
	switcher        *dataswitch.Switch
	scheduler       *scheduler.Scheduler
	ioPool          *pool.Pool
	defaultDeadline time.Duration
}

// New builds a Server over the process-wide Scheduler and Data Switch.
func New(switcher *dataswitch.Switch, sched *scheduler.Scheduler, ioPool *pool.Pool, defaultDeadline time.Duration) *Server {
	return &Server{switcher: switcher, scheduler: sched, ioPool: ioPool, defaultDeadline: defaultDeadline}
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func (s *Server) RegisterRoutes(app *fiber.App) {
	v1 := app.Group("/api/v1")
	v1.Post("/validate/series", s.handleValidateSeries)
	v1.Post("/validate/spatial", s.handleValidateSpatial)
}

func (s *Server) handleValidateSeries(c *fiber.Ctx) error {
	var req ValidateSeriesRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if _, _, err := dataswitch.ParseLocator(req.SeriesID); err != nil {
		return mapError(err)
	}

	deadline := time.Now().Add(s.defaultDeadline)

	start, end, err := s.resolveSeriesWindow(c.Context(), req.SeriesID, req.StartTime, req.EndTime, deadline)
	if err != nil {
		return mapError(err)
	}
	if end.Before(start) {
		return mapError(roveerr.New(roveerr.InvalidArgument, "start_time %s is after end_time %s", start, end))
	}

	tests := make([]catalog.TestId, len(req.Tests))
	for i, t := range req.Tests {
		tests[i] = catalog.TestId(t)
	}

	events, err := s.scheduler.Run(c.Context(), scheduler.Request{
		Tests:         tests,
		SeriesLocator: req.SeriesID,
		Start:         start,
		End:           end,
		Deadline:      deadline,
	})
	if err != nil {
		return mapError(err)
	}

	c.Status(fiber.StatusOK)
	c.Set(fiber.HeaderContentType, "application/x-ndjson")
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer w.Flush()
		enc := json.NewEncoder(w)
		for ev := range events {
			if ev.Err != nil {
				enc.Encode(streamErrorLine{Error: ev.Err.Error(), Kind: roveerr.KindOf(ev.Err).String()})
				w.Flush()
				return
			}
			points := make([]seriesFlagPoint, len(ev.Series.Points))
			for i, p := range ev.Series.Points {
				points[i] = seriesFlagPoint{Time: p.Time, Flag: p.Flag}
			}
			enc.Encode(ValidateSeriesResponse{Test: string(ev.Series.TestID), Results: points})
			w.Flush()
		}
	})
	return nil
}

func (s *Server) handleValidateSpatial(c *fiber.Ctx) error {
	var req ValidateSpatialRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if _, _, err := dataswitch.ParseLocator(req.SpatialID); err != nil {
		return mapError(err)
	}
	for _, loc := range req.BackingSources {
		if _, _, err := dataswitch.ParseLocator(loc); err != nil {
			return mapError(err)
		}
	}
	if len(req.Polygon) > 0 && len(req.Polygon) < 3 {
		return mapError(roveerr.New(roveerr.InvalidArgument, "polygon must have at least 3 points, got %d", len(req.Polygon)))
	}

	tests := make([]catalog.TestId, len(req.Tests))
	for i, t := range req.Tests {
		tests[i] = catalog.TestId(t)
	}

	// spatial_id is the primary source; backing_sources are merged in after
	// it, so spatial_id wins any station-id collision (first-listed-wins).
	locators := append([]string{req.SpatialID}, req.BackingSources...)

	events, err := s.scheduler.Run(c.Context(), scheduler.Request{
		Tests:           tests,
		SpatialLocators: locators,
		At:              req.Time,
		Polygon:         req.Polygon,
		Deadline:        time.Now().Add(s.defaultDeadline),
	})
	if err != nil {
		return mapError(err)
	}

	c.Status(fiber.StatusOK)
	c.Set(fiber.HeaderContentType, "application/x-ndjson")
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer w.Flush()
		enc := json.NewEncoder(w)
		for ev := range events {
			if ev.Err != nil {
				enc.Encode(streamErrorLine{Error: ev.Err.Error(), Kind: roveerr.KindOf(ev.Err).String()})
				w.Flush()
				return
			}
			points := make([]spatialFlagPoint, len(ev.Spatial.Points))
			for i, p := range ev.Spatial.Points {
				points[i] = spatialFlagPoint{Location: p.Location, Flag: p.Flag}
			}
			enc.Encode(ValidateSpatialResponse{Test: string(ev.Spatial.TestID), Results: points})
			w.Flush()
		}
	})
	return nil
}

// resolveSeriesWindow defaults an omitted start_time/end_time to the
// series bounds reported by the connector (spec.md §8 boundary scenario
// 6), probing the Data Switch once with a throwaway window to learn
// RangeStart/RangeEnd when either bound is missing.
func (s *Server) resolveSeriesWindow(ctx context.Context, locator string, start, end *time.Time, deadline time.Time) (time.Time, time.Time, error) {
	if start != nil && end != nil {
		return *start, *end, nil
	}

	now := time.Now()
	probe, err := s.switcher.FetchSeries(ctx, s.ioPool, dataswitch.NewFetchCache(), locator, now, now, 0, deadline)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	resolvedStart, resolvedEnd := probe.RangeStart, probe.RangeEnd
	if start != nil {
		resolvedStart = *start
	}
	if end != nil {
		resolvedEnd = *end
	}
	return resolvedStart, resolvedEnd, nil
}

// mapError converts a roveerr.Error (or any other error) into the Fiber
// error response the centralized ErrorHandler renders, per spec.md §7's
// taxonomy.
func mapError(err error) error {
	status := fiber.StatusInternalServerError
	switch roveerr.KindOf(err) {
	case roveerr.InvalidLocator, roveerr.UnknownSource, roveerr.UnknownTest, roveerr.InvalidArgument:
		status = fiber.StatusBadRequest
	case roveerr.DataError:
		status = fiber.StatusBadGateway
	case roveerr.TestFailure:
		status = fiber.StatusInternalServerError
	case roveerr.Cancelled:
		status = fiber.StatusGatewayTimeout
	case roveerr.Internal:
		status = fiber.StatusInternalServerError
	}
	return fiber.NewError(status, err.Error())
}
