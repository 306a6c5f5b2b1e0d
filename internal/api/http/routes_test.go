package httpapi_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	httpapi "github.com/halvorsveen/rove/internal/api/http"
	"github.com/halvorsveen/rove/internal/catalog"
	"github.com/halvorsveen/rove/internal/dataswitch"
	"github.com/halvorsveen/rove/internal/dataswitch/connectors"
	"github.com/halvorsveen/rove/internal/harness"
	"github.com/halvorsveen/rove/internal/pool"
	"github.com/halvorsveen/rove/internal/qcalgo"
	"github.com/halvorsveen/rove/internal/scheduler"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]catalog.Entry{
		{ID: "range_check", Kind: catalog.SeriesTest, Algo: qcalgo.SeriesSpec{Fn: qcalgo.RangeCheck, High: 100, Low: -100}},
		{ID: "buddy_check", Kind: catalog.SpatialTest, Algo: qcalgo.SpatialSpec{Fn: qcalgo.BuddyCheck, High: 3, Low: 2}},
	})
	if err != nil {
		t.Fatalf("unexpected catalog error: %v", err)
	}
	return cat
}

func testApp(t *testing.T) *fiber.App {
	t.Helper()
	cat := testCatalog(t)
	sw := dataswitch.New(map[string]dataswitch.DataConnector{"memory": connectors.NewMemoryConnector()})
	h := harness.New(cat)
	ioPool := pool.New(4)
	sched := scheduler.New(cat, sw, h, ioPool, pool.New(4))

	app := fiber.New()
	httpapi.New(sw, sched, ioPool, 5*time.Second).RegisterRoutes(app)
	return app
}

func readNDJSON(t *testing.T, body *http.Response) []map[string]any {
	t.Helper()
	defer body.Body.Close()
	scanner := bufio.NewScanner(body.Body)
	// One line carries every flag of a test, which for a defaulted 30-day
	// window is far beyond bufio.Scanner's 64 KiB default token size.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var lines []map[string]any
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("invalid ndjson line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, m)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("reading ndjson: %v", err)
	}
	return lines
}

func TestValidateSeriesStreamsOneLinePerTest(t *testing.T) {
	app := testApp(t)

	now := time.Now().UTC()
	body, _ := json.Marshal(httpapi.ValidateSeriesRequest{
		SeriesID:  "memory:SN1",
		StartTime: &now,
		EndTime:   ptrTime(now.Add(time.Hour)),
		Tests:     []string{"range_check"},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/validate/series", bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	lines := readNDJSON(t, resp)
	if len(lines) != 1 {
		t.Fatalf("expected 1 streamed line, got %d", len(lines))
	}
	if lines[0]["test"] != "range_check" {
		t.Fatalf("unexpected test name: %v", lines[0]["test"])
	}
}

func TestValidateSeriesRejectsMalformedLocator(t *testing.T) {
	app := testApp(t)

	body, _ := json.Marshal(httpapi.ValidateSeriesRequest{
		SeriesID: "no-colon-here",
		Tests:    []string{"range_check"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/validate/series", bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed locator, got %d", resp.StatusCode)
	}
}

func TestValidateSeriesRejectsStartAfterEnd(t *testing.T) {
	app := testApp(t)

	now := time.Now().UTC()
	body, _ := json.Marshal(httpapi.ValidateSeriesRequest{
		SeriesID:  "memory:SN1",
		StartTime: &now,
		EndTime:   ptrTime(now.Add(-time.Hour)),
		Tests:     []string{"range_check"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/validate/series", bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for start_time after end_time, got %d", resp.StatusCode)
	}
}

func TestValidateSeriesDefaultsMissingWindowFromConnector(t *testing.T) {
	app := testApp(t)

	body, _ := json.Marshal(httpapi.ValidateSeriesRequest{
		SeriesID: "memory:SN1",
		Tests:    []string{"range_check"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/validate/series", bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	lines := readNDJSON(t, resp)
	if len(lines) != 1 {
		t.Fatalf("expected 1 streamed line, got %d", len(lines))
	}
}

func TestValidateSpatialRejectsShortPolygon(t *testing.T) {
	app := testApp(t)

	body, _ := json.Marshal(httpapi.ValidateSpatialRequest{
		SpatialID:      "memory:",
		BackingSources: []string{"memory:"},
		Time:           time.Now().UTC(),
		Tests:          []string{"buddy_check"},
		Polygon:        []dataswitch.GeoPoint{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/validate/spatial", bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a 2-point polygon, got %d", resp.StatusCode)
	}
}

func TestValidateSpatialStreamsResults(t *testing.T) {
	app := testApp(t)

	body, _ := json.Marshal(httpapi.ValidateSpatialRequest{
		SpatialID:      "memory:",
		BackingSources: []string{"memory:"},
		Time:           time.Now().UTC(),
		Tests:          []string{"buddy_check"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/validate/spatial", bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	lines := readNDJSON(t, resp)
	if len(lines) != 1 || lines[0]["test"] != "buddy_check" {
		t.Fatalf("unexpected streamed output: %+v", lines)
	}
}

func TestValidateSpatialWorksWithoutBackingSources(t *testing.T) {
	app := testApp(t)

	body, _ := json.Marshal(httpapi.ValidateSpatialRequest{
		SpatialID: "memory:",
		Time:      time.Now().UTC(),
		Tests:     []string{"buddy_check"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/validate/spatial", bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with only spatial_id and no backing_sources, got %d", resp.StatusCode)
	}
	lines := readNDJSON(t, resp)
	if len(lines) != 1 || lines[0]["test"] != "buddy_check" {
		t.Fatalf("unexpected streamed output: %+v", lines)
	}
}

func TestValidateSpatialRejectsMalformedSpatialID(t *testing.T) {
	app := testApp(t)

	body, _ := json.Marshal(httpapi.ValidateSpatialRequest{
		SpatialID: "no-colon-here",
		Time:      time.Now().UTC(),
		Tests:     []string{"buddy_check"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/validate/spatial", bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed spatial_id, got %d", resp.StatusCode)
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
