package telephony

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-dialer/internal/config"
)

// Mock simulates call placement for local development.
type Mock struct {
	successRate float64
	sipDomain   string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMock constructs a mock gateway.
func NewMock(cfg config.MockConfig, sipDomain string) *Mock {
	rate := cfg.SuccessRate
	if rate <= 0 {
		rate = 0.8
	}
	return &Mock{
		successRate: rate,
		sipDomain:   sipDomain,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *Mock) Name() string { return "mock" }

// InitiateCall succeeds with the configured probability.
func (m *Mock) InitiateCall(ctx context.Context, spec CallSpec) (CallResult, error) {
	if err := ctx.Err(); err != nil {
		return CallResult{}, err
	}

	m.mu.Lock()
	roll := m.rng.Float64()
	m.mu.Unlock()

	if roll > m.successRate {
		return CallResult{Success: false}, nil
	}
	return CallResult{Success: true, ProviderCallSID: "MOCK" + uuid.NewString()}, nil
}

func (m *Mock) BridgeInboundCall(callID string) (CallDirective, error) {
	return renderSIPBridge(callID, m.sipDomain)
}
