// Package telemetry provides observability instrumentation for the manager.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), and metrics (Prometheus) into a unified system for monitoring
// and debugging import resolution.
//
// # Architecture
//
// The telemetry system is built on three pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "cloudify-manager"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("resolver")
//	logger = logger.WithTenant("default_tenant").WithImportURL("plugin:cloudify-openstack-plugin")
//	logger.Info("Resolving plugin import")
//	logger.WithError(err).Error("Resolution failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into request flow and performance:
//
//	ctx, span := tel.Tracer.Start(ctx, "operation.name")
//	defer span.End()
//
//	// Add attributes
//	span.SetAttributes(
//	    telemetry.AttrPluginName.String(name),
//	    telemetry.AttrTenant.String(tenant),
//	)
//
//	// Record errors
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track system behavior and performance:
//
//	// Record resolution lifecycle
//	tel.Metrics.RecordResolutionStarted("plugin")
//	tel.Metrics.RecordResolutionCompleted("plugin", "succeeded", duration)
//
//	// Record catalog and marketplace traffic
//	tel.Metrics.RecordCatalogQuery("list_plugins", duration)
//	tel.Metrics.RecordMarketplaceCall("list_versions", duration)
//
//	// Record upload coordination
//	tel.Metrics.RecordUploadConflict()
//	tel.Metrics.RecordConflictPoll()
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Instrument an operation
//	ic := telemetry.StartOperation(ctx, "resolver.resolve_import",
//	    telemetry.AttrImportURL.String(importURL))
//	defer ic.End(err)
//
//	ic.Logger.Info("Resolving import")
//
//	// Resolution context
//	ctx = telemetry.WithResolutionContext(ctx, tenant, importURL, "plugin")
//	defer telemetry.EndResolutionContext(ctx, "plugin", status, err)
//
//	// Marketplace operation
//	err := telemetry.RecordMarketplaceOperation(ctx, name, "get_plugin", func(ctx context.Context) error {
//	    listing, err = market.GetPlugin(ctx, name)
//	    return err
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
// # Common Metrics
//
// Key metrics exposed:
//
//   - cloudify_resolutions_started_total{kind}
//   - cloudify_resolutions_completed_total{kind,status}
//   - cloudify_resolution_duration_seconds{kind}
//   - cloudify_catalog_queries_total{operation}
//   - cloudify_marketplace_calls_total{operation}
//   - cloudify_plugin_uploads_total{status}
//   - cloudify_upload_conflicts_total
//   - cloudify_conflict_poll_attempts_total
//   - cloudify_errors_by_class_total{class}
//   - cloudify_active_resolutions
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending traces:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
package telemetry
