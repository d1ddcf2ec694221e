package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/acme/outbound-dialer/internal/config"
)

// Telnyx places calls through the Call Control API.
type Telnyx struct {
	cfg       config.TelnyxConfig
	sipDomain string
	client    *http.Client
}

// NewTelnyx constructs the Telnyx gateway.
func NewTelnyx(cfg config.TelnyxConfig, sipDomain string, client *http.Client) *Telnyx {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telnyx.com"
	}
	return &Telnyx{cfg: cfg, sipDomain: sipDomain, client: client}
}

func (t *Telnyx) Name() string { return "telnyx" }

type telnyxCreateCall struct {
	To           string `json:"to"`
	From         string `json:"from"`
	ConnectionID string `json:"connection_id"`
}

type telnyxCallResponse struct {
	Data struct {
		CallControlID string `json:"call_control_id"`
	} `json:"data"`
}

// InitiateCall succeeds when the response carries a call control id.
// The connection id comes from the CallSpec, falling back to configuration.
func (t *Telnyx) InitiateCall(ctx context.Context, spec CallSpec) (CallResult, error) {
	connectionID := spec.ConnectionID
	if connectionID == "" {
		connectionID = t.cfg.ConnectionID
	}

	body, err := json.Marshal(telnyxCreateCall{To: spec.To, From: spec.From, ConnectionID: connectionID})
	if err != nil {
		return CallResult{}, fmt.Errorf("telnyx: marshal request: %w", err)
	}

	endpoint := strings.TrimRight(t.cfg.BaseURL, "/") + "/v2/calls"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return CallResult{}, fmt.Errorf("telnyx: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return CallResult{}, fmt.Errorf("telnyx: create call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return CallResult{}, fmt.Errorf("telnyx: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return CallResult{}, fmt.Errorf("telnyx: create call: unexpected status %d", resp.StatusCode)
	}

	var payload telnyxCallResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return CallResult{}, fmt.Errorf("telnyx: decode response: %w", err)
	}
	if payload.Data.CallControlID == "" {
		return CallResult{Success: false}, nil
	}
	return CallResult{Success: true, ProviderCallSID: payload.Data.CallControlID}, nil
}

// BridgeInboundCall returns TeXML dialing the agent's SIP endpoint.
func (t *Telnyx) BridgeInboundCall(callID string) (CallDirective, error) {
	return renderSIPBridge(callID, t.sipDomain)
}
