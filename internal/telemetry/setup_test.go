package telemetry

import (
	"context"
	"testing"

	"github.com/acme/outbound-dialer/internal/config"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{}, config.AppConfig{Name: "outbound-dialer"}, "api")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupRequiresEndpoint(t *testing.T) {
	if _, err := Setup(context.Background(), config.TelemetryConfig{TracingEnabled: true}, config.AppConfig{}, "api"); err == nil {
		t.Fatalf("expected error without endpoint")
	}
}

func TestServiceName(t *testing.T) {
	if got := ServiceName("", "dialer"); got != "outbound-dialer-dialer" {
		t.Fatalf("unexpected name %s", got)
	}
	if got := ServiceName("acme", ""); got != "acme" {
		t.Fatalf("unexpected name %s", got)
	}
}

func TestSampleRatio(t *testing.T) {
	for in, want := range map[float64]float64{0: 1, -1: 1, 2: 1, 0.25: 0.25} {
		if got := sampleRatio(in); got != want {
			t.Errorf("%v: expected %v, got %v", in, want, got)
		}
	}
}
