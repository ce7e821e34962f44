package config

// TracingConfig holds OTLP trace export configuration.
//
// Traces are exported over OTLP HTTP to a local collector or agent.
// See internal/observability for the exporter setup.
type TracingConfig struct {
	// Enabled turns trace export on. Default: false
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// Endpoint is the OTLP HTTP endpoint (default: localhost:4318)
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	// Environment is the deployment environment tag (default: dev)
	Environment string `mapstructure:"environment" json:"environment"`
	// ServiceName is the service name attached to exported spans (default: recall)
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}
