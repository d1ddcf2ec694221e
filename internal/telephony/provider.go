package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/acme/outbound-dialer/internal/config"
)

var (
	// ErrUnsupportedCarrier is returned by New for an unknown carrier name.
	ErrUnsupportedCarrier = errors.New("unsupported carrier")
	// ErrInvalidCallID is returned when an inbound call identifier cannot be bridged.
	ErrInvalidCallID = errors.New("invalid call id")
)

// CallSpec describes an outbound call. Providers ignore fields they do not use.
type CallSpec struct {
	To           string
	From         string
	AgentID      string
	TrackingID   string
	ConnectionID string
}

// CallResult is the provider-neutral outcome of a call initiation.
type CallResult struct {
	Success         bool
	ProviderCallSID string
}

// CallDirective is a call-control document returned to the telephony leg.
type CallDirective struct {
	ContentType string
	Body        string
}

// Gateway abstracts call placement across telephony providers.
type Gateway interface {
	Name() string
	InitiateCall(ctx context.Context, spec CallSpec) (CallResult, error)
	BridgeInboundCall(callID string) (CallDirective, error)
}

// New resolves the configured carrier. A nil client gets an instrumented default.
func New(cfg config.CarrierConfig, client *http.Client) (Gateway, error) {
	if client == nil {
		client = NewHTTPClient(cfg)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "twilio":
		return NewTwilio(cfg.Twilio, cfg.SIPDomain, client), nil
	case "telnyx":
		return NewTelnyx(cfg.Telnyx, cfg.SIPDomain, client), nil
	case "mock":
		return NewMock(cfg.Mock, cfg.SIPDomain), nil
	default:
		return nil, fmt.Errorf("telephony: %w: %q", ErrUnsupportedCarrier, cfg.Name)
	}
}

// NewHTTPClient builds the traced client used for provider calls.
func NewHTTPClient(cfg config.CarrierConfig) *http.Client {
	return &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
