package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Scylla    ScyllaConfig    `mapstructure:"scylla"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Dialer    DialerConfig    `mapstructure:"dialer"`
	Carrier   CarrierConfig   `mapstructure:"carrier"`
	Cadence   CadenceConfig   `mapstructure:"cadence"`
	Handoff   HandoffConfig   `mapstructure:"handoff"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	ClientID       string   `mapstructure:"client_id"`
	AnalyticsTopic string   `mapstructure:"analytics_topic"`
	HandoffTopic   string   `mapstructure:"handoff_topic"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint       string  `mapstructure:"endpoint"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Namespace string `mapstructure:"namespace"`
}

// DialerConfig holds the caller identity and loop pacing for outbound dialing.
type DialerConfig struct {
	CallerID     string        `mapstructure:"caller_id"`
	AgentID      string        `mapstructure:"agent_id"`
	IdleInterval time.Duration `mapstructure:"idle_interval"`
}

// CarrierConfig selects and configures the telephony provider.
type CarrierConfig struct {
	Name           string        `mapstructure:"name"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SIPDomain      string        `mapstructure:"sip_domain"`
	Twilio         TwilioConfig  `mapstructure:"twilio"`
	Telnyx         TelnyxConfig  `mapstructure:"telnyx"`
	Mock           MockConfig    `mapstructure:"mock"`
}

type TwilioConfig struct {
	AccountSID   string `mapstructure:"account_sid"`
	AuthToken    string `mapstructure:"auth_token"`
	StartCallURL string `mapstructure:"start_call_url"`
}

type TelnyxConfig struct {
	APIKey       string `mapstructure:"api_key"`
	ConnectionID string `mapstructure:"connection_id"`
	BaseURL      string `mapstructure:"base_url"`
}

type MockConfig struct {
	SuccessRate float64 `mapstructure:"success_rate"`
}

// CadenceConfig carries the retry rule table and the disposition sets that bypass it.
type CadenceConfig struct {
	Rules               map[string]CadenceRuleConfig `mapstructure:"rules"`
	SuccessDispositions []string                     `mapstructure:"success_dispositions"`
	HandoffDispositions []string                     `mapstructure:"handoff_dispositions"`
	MaxConflictRetries  int                          `mapstructure:"max_conflict_retries"`
	LockTTL             time.Duration                `mapstructure:"lock_ttl"`
	LockWait            time.Duration                `mapstructure:"lock_wait"`
}

type CadenceRuleConfig struct {
	DefaultPriority  int                    `mapstructure:"default_priority"`
	ExhaustionStatus string                 `mapstructure:"exhaustion_status"`
	Segments         []CadenceSegmentConfig `mapstructure:"segments"`
}

type CadenceSegmentConfig struct {
	Min              int  `mapstructure:"min"`
	Max              int  `mapstructure:"max"`
	Days             int  `mapstructure:"days"`
	Hours            int  `mapstructure:"hours"`
	Minutes          int  `mapstructure:"minutes"`
	Seconds          int  `mapstructure:"seconds"`
	PriorityOverride *int `mapstructure:"priority_override"`
}

// HandoffConfig enables human handoff task creation when both references are present.
type HandoffConfig struct {
	WorkspaceSID string `mapstructure:"workspace_sid"`
	WorkflowSID  string `mapstructure:"workflow_sid"`
}

// Enabled reports whether handoff tasks can be created.
func (h HandoffConfig) Enabled() bool {
	return h.WorkspaceSID != "" && h.WorkflowSID != ""
}

type AnalyticsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	EventName string `mapstructure:"event_name"`
}

// ReconcileConfig drives the sweep over stuck and failed hopper entries.
type ReconcileConfig struct {
	Schedule        string        `mapstructure:"schedule"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	BatchSize       int           `mapstructure:"batch_size"`
	RequeueStatuses []string      `mapstructure:"requeue_statuses"`
	MaxRequeues     int           `mapstructure:"max_requeues"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("OUTBOUND")
	v.SetEnvKeyReplacer(NewEnvReplacer())
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "outbound-dialer")
	v.SetDefault("app.env", "development")
	v.SetDefault("http.port", 8080)
	v.SetDefault("carrier.name", "twilio")
	v.SetDefault("carrier.request_timeout", 10*time.Second)
	v.SetDefault("carrier.sip_domain", "5t4n6j0wnrl.sip.livekit.cloud")
	v.SetDefault("carrier.telnyx.base_url", "https://api.telnyx.com")
	v.SetDefault("carrier.mock.success_rate", 0.8)
	v.SetDefault("dialer.idle_interval", 5*time.Second)
	v.SetDefault("cadence.success_dispositions", []string{"APPOINTMENT_SCHEDULED_AI"})
	v.SetDefault("cadence.handoff_dispositions", []string{"CALL_COMPLETED_HUMAN_HANDOFF", "CALL_TRANSFERRED"})
	v.SetDefault("cadence.max_conflict_retries", 3)
	v.SetDefault("cadence.lock_ttl", 30*time.Second)
	v.SetDefault("cadence.lock_wait", 2*time.Second)
	v.SetDefault("analytics.event_name", "Call Outcome Processed")
	v.SetDefault("kafka.analytics_topic", "dialer.analytics")
	v.SetDefault("kafka.handoff_topic", "dialer.handoff-tasks")
	v.SetDefault("metrics.address", ":9090")
	v.SetDefault("metrics.namespace", "outbound_dialer")
	v.SetDefault("reconcile.schedule", "@every 1m")
	v.SetDefault("reconcile.stale_after", 15*time.Minute)
	v.SetDefault("reconcile.batch_size", 100)
	v.SetDefault("reconcile.max_requeues", 0)
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
