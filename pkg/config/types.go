package config

import (
	"errors"

	"github.com/sensorgrid/pipeline/pkg/models"
)

var (
	errNoPipelineName = errors.New("pipeline name is required")
	errNoCacheAddr    = errors.New("cache address is required")
)

// PipelineConfig is the single structured configuration object supplied
// to the orchestrator. Loading it from a file is handled by LoadFile;
// richer validation policy lives with the operator tooling.
type PipelineConfig struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	HTTPAddr string `json:"http_addr"` // e.g., :8090
	GRPCAddr string `json:"grpc_addr"` // health endpoint, e.g., :50061

	Ingestion IngestionConfig        `json:"ingestion"`
	Sensors   []SensorConfig         `json:"sensors"`
	Oracles   OracleConfig           `json:"oracles"`
	Networks  []NetworkConfig        `json:"networks"`
	Wallets   []WalletConfig         `json:"wallets"`
	Contracts []ContractConfig       `json:"contracts"`
	Webhooks  []WebhookEndpoint      `json:"webhooks"`
	Cache     CacheConfig            `json:"cache"`
	History   HistoryConfig          `json:"history"`
	Rules     []OrchestratorRule     `json:"rules,omitempty"`
	Retry     RetryPolicy            `json:"retry"`
}

func (c *PipelineConfig) Validate() error {
	if c.Name == "" {
		return errNoPipelineName
	}

	if c.Cache.Addr == "" {
		return errNoCacheAddr
	}

	return nil
}

// IngestionConfig covers the gateway's two transports.
type IngestionConfig struct {
	MQTT   MQTTConfig   `json:"mqtt"`
	Socket SocketConfig `json:"socket"`
}

// MQTTConfig is the pub/sub transport configuration.
type MQTTConfig struct {
	BrokerURL string   `json:"broker_url"`
	ClientID  string   `json:"client_id"`
	Username  string   `json:"username,omitempty"`
	Password  string   `json:"password,omitempty"`
	Topics    []string `json:"topics"` // topic patterns, e.g., sensors/+/telemetry
	QoS       byte     `json:"qos"`
}

// SocketConfig is the duplex socket transport configuration.
type SocketConfig struct {
	URL                  string          `json:"url"` // ws:// endpoint
	MaxReconnectAttempts int             `json:"max_reconnect_attempts"`
	ReconnectBaseDelay   models.Duration `json:"reconnect_base_delay"`
}

// Threshold maps a metric comparison to an action.
type Threshold struct {
	Metric   string                 `json:"metric"`
	Operator string                 `json:"operator"` // > < = >= <=
	Value    float64                `json:"value"`
	Severity models.Severity        `json:"severity"`
	Action   models.ThresholdAction `json:"action"`

	// Contract invocation details when Action is trigger_contract.
	ContractAddress string        `json:"contract_address,omitempty"`
	FunctionName    string        `json:"function_name,omitempty"`
	Parameters      []interface{} `json:"parameters,omitempty"`
}

// SensorConfig registers one trusted telemetry source.
type SensorConfig struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Type             string          `json:"type"` // temperature, humidity, ...
	SamplingInterval models.Duration `json:"sampling_interval"`
	MinValue         *float64        `json:"min_value,omitempty"`
	MaxValue         *float64        `json:"max_value,omitempty"`
	Thresholds       []Threshold     `json:"thresholds,omitempty"`
}

// OracleConfig groups the three oracle classes.
type OracleConfig struct {
	PriceFeeds     []PriceFeedConfig     `json:"price_feeds,omitempty"`
	WeatherOracles []WeatherOracleConfig `json:"weather_oracles,omitempty"`
	CustomOracles  []CustomOracleConfig  `json:"custom_oracles,omitempty"`
}

// PriceSource is one provider endpoint contributing to a price feed.
type PriceSource struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Path string `json:"path"` // dotted path to the price in the JSON response
}

// PriceFeedConfig aggregates multiple sources for one symbol.
type PriceFeedConfig struct {
	ID              string          `json:"id"`
	Symbol          string          `json:"symbol"`
	Sources         []PriceSource   `json:"sources"`
	Method          string          `json:"method"` // median, mean, weighted_average
	UpdateThreshold float64         `json:"update_threshold"` // percent change gate
	Interval        models.Duration `json:"interval"`
}

// WeatherOracleConfig polls one provider for one geolocation.
type WeatherOracleConfig struct {
	ID        string          `json:"id"`
	Provider  string          `json:"provider"` // openweathermap, generic
	URL       string          `json:"url"`
	APIKey    string          `json:"api_key,omitempty"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Metrics   []string        `json:"metrics"` // temperature, humidity, ...
	Interval  models.Duration `json:"interval"`
}

// CustomTransform applies one arithmetic operation to an extracted value.
type CustomTransform struct {
	Op      string  `json:"op"` // multiply, divide, add, subtract
	Operand float64 `json:"operand"`
}

// CustomOracleConfig polls an arbitrary JSON API.
type CustomOracleConfig struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	Method    string            `json:"method"` // GET by default
	Headers   map[string]string `json:"headers,omitempty"`
	APIKey    string            `json:"api_key,omitempty"` // sent as X-API-Key
	Path      string            `json:"path"`
	Transform *CustomTransform  `json:"transform,omitempty"`
	Interval  models.Duration   `json:"interval"`
}

// NetworkConfig is one blockchain network connection.
type NetworkConfig struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	RPCURL  string `json:"rpc_url"`
	ChainID int64  `json:"chain_id"`
}

// WalletConfig is one signing identity bound to a network.
type WalletConfig struct {
	ID         string `json:"id"`
	NetworkID  string `json:"network_id"`
	PrivateKey string `json:"private_key"` // hex, no 0x prefix
}

// EventHandler reacts to one contract event.
type EventHandler struct {
	Type string `json:"type"` // webhook, contract_call

	// contract_call target; parameters may reference the triggering
	// event's data via $event.<dotted.path>.
	ContractAddress string        `json:"contract_address,omitempty"`
	FunctionName    string        `json:"function_name,omitempty"`
	Parameters      []interface{} `json:"parameters,omitempty"`
}

// ContractEvent subscribes to one named event on a contract.
type ContractEvent struct {
	Name     string         `json:"name"`
	Handlers []EventHandler `json:"handlers,omitempty"`
}

// ContractConfig binds one deployed contract.
type ContractConfig struct {
	ID        string          `json:"id"`
	Address   string          `json:"address"`
	NetworkID string          `json:"network_id"`
	ABI       string          `json:"abi"` // JSON ABI document
	Events    []ContractEvent `json:"events,omitempty"`
}

// WebhookFilter gates delivery on a dotted path into the payload.
type WebhookFilter struct {
	Path     string      `json:"path"`
	Operator string      `json:"operator"` // eq, neq, gt, lt, contains
	Value    interface{} `json:"value"`
}

// WebhookTransform projects and renames payload fields before delivery.
type WebhookTransform struct {
	Include []string          `json:"include,omitempty"`
	Rename  map[string]string `json:"rename,omitempty"`
}

// WebhookEndpoint is one configured outbound delivery target.
type WebhookEndpoint struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	Method    string            `json:"method"` // POST or PUT
	Headers   map[string]string `json:"headers,omitempty"`
	Events    []string          `json:"events"` // event types to deliver
	Filters   []WebhookFilter   `json:"filters,omitempty"`
	Transform *WebhookTransform `json:"transform,omitempty"`
	Retry     RetryPolicy       `json:"retry"`
}

// RetryPolicy bounds retries with linear or exponential backoff.
type RetryPolicy struct {
	MaxRetries   int             `json:"max_retries"`
	Strategy     string          `json:"strategy"` // linear, exponential
	InitialDelay models.Duration `json:"initial_delay"`
	MaxDelay     models.Duration `json:"max_delay"`
}

// CacheConfig is the Redis backing store connection.
type CacheConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
}

// HistoryConfig is the durable sqlite audit store.
type HistoryConfig struct {
	Path string `json:"path"` // empty disables the history store
}

// OrchestratorRule is a coarse orchestrator-level threshold that can
// enqueue a high-priority contract call independent of per-sensor
// thresholds. Fully config-driven; no built-in rules exist.
type OrchestratorRule struct {
	Metric          string        `json:"metric"`
	Operator        string        `json:"operator"`
	Value           float64       `json:"value"`
	ContractAddress string        `json:"contract_address"`
	FunctionName    string        `json:"function_name"`
	Parameters      []interface{} `json:"parameters,omitempty"`
}
