package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/acme/outbound-dialer/internal/config"
)

// Twilio places calls by invoking the start-call function deployed next to the
// voice agent. That function answers with its own success flag.
type Twilio struct {
	cfg       config.TwilioConfig
	sipDomain string
	client    *http.Client
}

// NewTwilio constructs the Twilio gateway.
func NewTwilio(cfg config.TwilioConfig, sipDomain string, client *http.Client) *Twilio {
	return &Twilio{cfg: cfg, sipDomain: sipDomain, client: client}
}

func (t *Twilio) Name() string { return "twilio" }

type startCallResponse struct {
	Success bool   `json:"success"`
	CallSID string `json:"call_sid"`
}

// InitiateCall succeeds only when the invocation returns 200 and the nested flag is true.
// Any other status is an error carrying the status code and body.
func (t *Twilio) InitiateCall(ctx context.Context, spec CallSpec) (CallResult, error) {
	if t.cfg.StartCallURL == "" {
		return CallResult{}, fmt.Errorf("twilio: start call url not configured")
	}

	form := url.Values{}
	form.Set("To", spec.To)
	form.Set("From", spec.From)
	form.Set("agent_id", spec.AgentID)
	form.Set("CallSid", spec.TrackingID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.StartCallURL, strings.NewReader(form.Encode()))
	if err != nil {
		return CallResult{}, fmt.Errorf("twilio: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if t.cfg.AccountSID != "" {
		req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return CallResult{}, fmt.Errorf("twilio: start call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return CallResult{}, fmt.Errorf("twilio: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return CallResult{}, fmt.Errorf("twilio: start call: unexpected status %d: %s", resp.StatusCode, snippet(body))
	}

	var payload startCallResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return CallResult{}, fmt.Errorf("twilio: decode response: %w", err)
	}
	if !payload.Success {
		return CallResult{Success: false}, nil
	}
	return CallResult{Success: true, ProviderCallSID: payload.CallSID}, nil
}

// snippet trims a response body for error messages.
func snippet(body []byte) string {
	const limit = 256
	text := strings.TrimSpace(string(body))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}

// BridgeInboundCall returns TwiML dialing the agent's SIP endpoint.
func (t *Twilio) BridgeInboundCall(callID string) (CallDirective, error) {
	return renderSIPBridge(callID, t.sipDomain)
}
