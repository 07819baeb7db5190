package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRunAggregatesWorstStatus(t *testing.T) {
	checker := NewChecker()
	checker.Register("store", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusUp}
	})
	checker.Register("cache", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusDegraded, Message: "unreachable"}
	})

	report := checker.Run(context.Background())
	if report.Status != StatusDegraded {
		t.Errorf("report status = %s, want degraded", report.Status)
	}
	if len(report.Components) != 2 {
		t.Fatalf("report has %d components, want 2", len(report.Components))
	}
	if report.Components["cache"].Message != "unreachable" {
		t.Errorf("cache component = %+v", report.Components["cache"])
	}

	checker.Register("bus", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusDown}
	})
	if report := checker.Run(context.Background()); report.Status != StatusDown {
		t.Errorf("report status with a down component = %s, want down", report.Status)
	}
}

func TestReadyHandlerRejectsWhenNotUp(t *testing.T) {
	checker := NewChecker()
	checker.Register("store", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusDown, Message: "connection refused"}
	})

	rec := httptest.NewRecorder()
	checker.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready = %d, want 503", rec.Code)
	}
	var report Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if report.Status != StatusDown {
		t.Errorf("reported status = %s, want down", report.Status)
	}
}

func TestReadyHandlerWithNoChecksIsUp(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker().ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ready with no checks = %d, want 200", rec.Code)
	}
}
