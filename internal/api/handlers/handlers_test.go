package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/acme/outbound-dialer/internal/config"
	dialersvc "github.com/acme/outbound-dialer/internal/service/dialer"
	outcomesvc "github.com/acme/outbound-dialer/internal/service/outcome"
	"github.com/acme/outbound-dialer/internal/telephony"
	apperrors "github.com/acme/outbound-dialer/pkg/errors"
)

type stubDialer struct {
	result dialersvc.Result
	err    error
}

func (s stubDialer) ProcessNext(context.Context) (dialersvc.Result, error) {
	return s.result, s.err
}

type stubOutcomes struct {
	got  outcomesvc.Input
	resp outcomesvc.Response
	err  error
}

func (s *stubOutcomes) Process(_ context.Context, in outcomesvc.Input) (outcomesvc.Response, error) {
	s.got = in
	return s.resp, s.err
}

func newTestApp(deps Deps) *fiber.App {
	h := New(deps)
	app := fiber.New(fiber.Config{ErrorHandler: h.ErrorHandler})
	h.Register(app)
	return app
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestDispatchStatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		dialer stubDialer
		code   int
		status string
	}{
		{
			name:   "no leads",
			dialer: stubDialer{result: dialersvc.Result{Success: true, Status: dialersvc.StatusNoLeadsFound}},
			code:   http.StatusOK,
			status: dialersvc.StatusNoLeadsFound,
		},
		{
			name:   "initiated",
			dialer: stubDialer{result: dialersvc.Result{Success: true, Status: dialersvc.StatusCallInitiated, ProviderCallSID: "CA123"}},
			code:   http.StatusOK,
			status: dialersvc.StatusCallInitiated,
		},
		{
			name:   "lead not found",
			dialer: stubDialer{result: dialersvc.Result{Status: dialersvc.StatusErrorLeadNotFound}, err: dialersvc.ErrLeadNotFound},
			code:   http.StatusInternalServerError,
			status: dialersvc.StatusErrorLeadNotFound,
		},
		{
			name:   "initiation failure",
			dialer: stubDialer{result: dialersvc.Result{Status: dialersvc.StatusErrorInitiatingCall}, err: dialersvc.ErrCallInitiation},
			code:   http.StatusInternalServerError,
			status: dialersvc.StatusErrorInitiatingCall,
		},
		{
			name:   "unhandled",
			dialer: stubDialer{result: dialersvc.Result{Status: dialersvc.StatusInternalServerError, Message: "boom"}, err: errors.New("boom")},
			code:   http.StatusInternalServerError,
			status: dialersvc.StatusInternalServerError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(Deps{Dialer: tc.dialer})
			resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/dialer/dispatch", nil))
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, resp.StatusCode)
			}
			body := decode(t, resp)
			if body["status"] != tc.status {
				t.Fatalf("expected status %s, got %v", tc.status, body["status"])
			}
		})
	}
}

func TestCallOutcome(t *testing.T) {
	payload := `{"twilio_call_sid":"CA123","phone_number":"+15551234567","disposition":"CALL_COMPLETED_NO_ANSWER","call_ended_timestamp":"2024-01-01T00:00:00Z","call_id":"agent-1","metadata":{"customer_name":"Ada"}}`

	t.Run("ok", func(t *testing.T) {
		outcomes := &stubOutcomes{resp: outcomesvc.Response{Success: true, Message: outcomesvc.MessageProcessed}}
		app := newTestApp(Deps{Outcomes: outcomes})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/call-outcome", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		body := decode(t, resp)
		if body["success"] != true || body["message"] != outcomesvc.MessageProcessed {
			t.Fatalf("unexpected body %v", body)
		}
		if outcomes.got.CallSID != "CA123" || outcomes.got.AgentCallID != "agent-1" || outcomes.got.Metadata["customer_name"] != "Ada" {
			t.Fatalf("payload not bound: %+v", outcomes.got)
		}
	})

	t.Run("validation", func(t *testing.T) {
		outcomes := &stubOutcomes{
			resp: outcomesvc.Response{Success: false, Message: outcomesvc.MessageMissingFields},
			err:  &outcomesvc.ValidationError{Message: outcomesvc.MessageMissingFields},
		}
		app := newTestApp(Deps{Outcomes: outcomes})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/call-outcome", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", resp.StatusCode)
		}
		body := decode(t, resp)
		if body["message"] != outcomesvc.MessageMissingFields {
			t.Fatalf("unexpected message %v", body["message"])
		}
	})

	t.Run("store failure", func(t *testing.T) {
		outcomes := &stubOutcomes{err: fmt.Errorf("outcome: fetch contact state: %w", apperrors.ErrUnavailable)}
		app := newTestApp(Deps{Outcomes: outcomes})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/call-outcome", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", resp.StatusCode)
		}
	})
}

func TestInboundCall(t *testing.T) {
	gw, err := telephony.New(config.CarrierConfig{Name: "mock", SIPDomain: "agents.example.com"}, http.DefaultClient)
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	app := newTestApp(Deps{Bridge: gw})

	requests := map[string]*http.Request{
		"form":  formRequest("call_id=call_abc"),
		"json":  jsonRequest(`{"call_id":"call_abc"}`),
		"query": httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/inbound-call?call_id=call_abc", nil),
	}
	for name, req := range requests {
		t.Run(name, func(t *testing.T) {
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "xml") {
				t.Fatalf("expected xml content type, got %s", ct)
			}
			raw, _ := io.ReadAll(resp.Body)
			if !strings.Contains(string(raw), "sip:call_abc@agents.example.com") {
				t.Fatalf("unexpected body %s", raw)
			}
		})
	}

	resp, err := app.Test(formRequest("call_id=bad@id"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	app := newTestApp(Deps{Checks: map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	body := decode(t, resp)
	errs, _ := body["errors"].(map[string]any)
	if errs["redis"] != "connection refused" || errs["postgres"] != nil {
		t.Fatalf("unexpected errors %v", errs)
	}
}

func formRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/inbound-call", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func jsonRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/inbound-call", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestErrorResponseCarriesTraceID(t *testing.T) {
	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: spanID, TraceFlags: trace.FlagsSampled})

	h := New(Deps{})
	app := fiber.New(fiber.Config{ErrorHandler: h.ErrorHandler})
	app.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(trace.ContextWithSpanContext(c.UserContext(), sc))
		return c.Next()
	})
	h.Register(app)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/missing", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("unexpected trace id %v", body["trace_id"])
	}
	if body["success"] != false {
		t.Fatalf("expected success false, got %v", body["success"])
	}
}

func TestErrorResponseWithoutSpanHasEmptyTraceID(t *testing.T) {
	app := newTestApp(Deps{})
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/missing", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if body := decode(t, resp); body["trace_id"] != "" {
		t.Fatalf("expected empty trace id, got %v", body["trace_id"])
	}
}
