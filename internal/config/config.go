package config

import "github.com/kelseyhightower/envconfig"

type APIConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	DBPoolMaxConns          int32  `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns          int32  `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   string `envconfig:"DB_POOL_MAX_CONN_LIFETIME"`
	DBPoolMaxConnIdleTime   string `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME"`
	DBPoolHealthCheckPeriod string `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD"`

	// Meta Graph API (official channel)
	MetaBaseURL       string  `envconfig:"META_BASE_URL" default:"https://graph.facebook.com"`
	MetaAPIVersion    string  `envconfig:"META_API_VERSION" default:"v19.0"`
	MetaAccessToken   string  `envconfig:"META_ACCESS_TOKEN" required:"true"`
	MetaTimeoutSec    int     `envconfig:"META_TIMEOUT_SEC" default:"8"`
	MetaRPSPerPod     float64 `envconfig:"META_RPS_PER_POD" default:"10"`
	MetaBurst         int     `envconfig:"META_BURST" default:"20"`

	// QR gateway (secondary channel)
	GatewayBaseURL    string `envconfig:"QR_GATEWAY_BASE_URL" required:"true"`
	GatewayAPIKey     string `envconfig:"QR_GATEWAY_API_KEY" required:"true"`
	GatewayTimeoutSec int    `envconfig:"QR_GATEWAY_TIMEOUT_SEC" default:"10"`
}

type WebhookConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	DBPoolMaxConns          int32  `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns          int32  `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   string `envconfig:"DB_POOL_MAX_CONN_LIFETIME"`
	DBPoolMaxConnIdleTime   string `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME"`
	DBPoolHealthCheckPeriod string `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD"`

	// Graph webhook signature verification; empty disables the check (the QR
	// gateway does not sign its callbacks).
	MetaAppSecret string `envconfig:"META_APP_SECRET"`

	// When set, status events are buffered through SQS and applied by the
	// webhook-processor; unset means statuses are applied inline.
	StatusEventsQueueURL string `envconfig:"STATUS_EVENTS_QUEUE_URL"`
	AWSRegion            string `envconfig:"AWS_REGION"`
	LocalstackEndpoint   string `envconfig:"LOCALSTACK_ENDPOINT"`
}

type WebhookProcessorConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	DBPoolMaxConns          int32  `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns          int32  `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   string `envconfig:"DB_POOL_MAX_CONN_LIFETIME"`
	DBPoolMaxConnIdleTime   string `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME"`
	DBPoolHealthCheckPeriod string `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD"`

	AWSRegion            string `envconfig:"AWS_REGION" required:"true"`
	StatusEventsQueueURL string `envconfig:"STATUS_EVENTS_QUEUE_URL" required:"true"`
	LocalstackEndpoint   string `envconfig:"LOCALSTACK_ENDPOINT"`
	SQSWaitTime          int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs           int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout        int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`
	ProcessorConcurrency int    `envconfig:"PROCESSOR_CONCURRENCY" default:"10"`
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWebhook() WebhookConfig {
	var cfg WebhookConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWebhookProcessor() WebhookProcessorConfig {
	var cfg WebhookProcessorConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
