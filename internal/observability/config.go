package observability

import (
	"strings"

	"github.com/smallbiznis/loyalty/internal/config"
)

const defaultServiceName = "loyalty"

// Config is the telemetry view of the service configuration.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	t := cfg.Telemetry
	out := Config{
		ServiceName:          strings.TrimSpace(cfg.AppName),
		Environment:          strings.ToLower(strings.TrimSpace(cfg.Environment)),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             strings.ToLower(strings.TrimSpace(t.LogLevel)),
		LogFormat:            strings.ToLower(strings.TrimSpace(t.LogFormat)),
		OtelEnabled:          t.OtelEnabled,
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(strings.TrimSpace(t.OtelProtocol)),
		OtelSamplingRatio:    t.OtelSamplingRatio,
	}
	if out.ServiceName == "" {
		out.ServiceName = defaultServiceName
	}
	if out.OtelExporterProtocol != "http" {
		out.OtelExporterProtocol = "grpc"
	}
	switch {
	case out.OtelSamplingRatio < 0:
		out.OtelSamplingRatio = 0
	case out.OtelSamplingRatio > 1:
		out.OtelSamplingRatio = 1
	}
	return out
}

// Debug is true for debug level logging and for local environments.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch c.Environment {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}
