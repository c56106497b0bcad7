package serverapp

import (
	"log/slog"

	"pgrest/internal/config"
	"pgrest/internal/logging"
	"pgrest/internal/observability"
)

// telemetry bundles the metric instruments. Every field may be nil when
// metrics are disabled; the instruments are nil-safe.
type telemetry struct {
	meterProvider *observability.MeterProvider
	requests      *observability.RequestMetrics
	schemaRefresh *observability.SchemaRefreshMetrics
	security      *observability.SecurityMetrics
}

func serviceConfig(cfg *config.Config) observability.Config {
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
	}
}

func exporterConfig(otlp config.OTLPConfig) observability.OTLPExporterConfig {
	return observability.OTLPExporterConfig{
		Endpoint:          otlp.Endpoint,
		Protocol:          otlp.Protocol,
		Insecure:          otlp.Insecure,
		TLSCertFile:       otlp.TLSCertFile,
		TLSClientCertFile: otlp.TLSClientCertFile,
		TLSClientKeyFile:  otlp.TLSClientKeyFile,
		Headers:           otlp.Headers,
		Timeout:           otlp.Timeout,
		Compression:       otlp.Compression,
		RetryEnabled:      otlp.RetryEnabled,
		RetryMaxAttempts:  otlp.RetryMaxAttempts,
	}
}

// InitLogger builds the process logger. With log export enabled the returned
// logger also feeds the OTLP logger provider, which the caller must shut down.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	otelCfg := serviceConfig(cfg)
	otelCfg.OTLPConfig = exporterConfig(logsConfig)
	loggerProvider, err := observability.InitLoggerProvider(otelCfg)
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)
	logger.Info("OpenTelemetry logging initialized")

	return logger, loggerProvider, nil
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (telemetry, error) {
	if !cfg.Observability.MetricsEnabled {
		return telemetry{}, nil
	}

	logger.Info("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("environment", cfg.Observability.Environment),
	)
	meterProvider, err := observability.InitMeterProvider(serviceConfig(cfg))
	if err != nil {
		return telemetry{}, err
	}

	t := telemetry{meterProvider: meterProvider}
	if t.requests, err = observability.InitMetrics(logger.Logger); err != nil {
		return t, err
	}
	if t.schemaRefresh, err = observability.InitSchemaRefreshMetrics(logger.Logger); err != nil {
		return t, err
	}
	if t.security, err = observability.InitSecurityMetrics(); err != nil {
		return t, err
	}
	logger.Info("OpenTelemetry metrics initialized")
	return t, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)

	otelCfg := serviceConfig(cfg)
	otelCfg.OTLPConfig = exporterConfig(tracesConfig)
	tracerProvider, err := observability.InitTracerProvider(otelCfg)
	if err != nil {
		return nil, err
	}
	logger.Info("OpenTelemetry tracing initialized")
	return tracerProvider, nil
}
