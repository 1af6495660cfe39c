// Package telemetry はOpenTelemetryによるトレースの初期化を提供する。
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ShutdownFunc はトレースプロバイダを停止し、未送信のスパンを送出する。
type ShutdownFunc func(context.Context) error

// Config はトレース送信先の設定。
type Config struct {
	ServiceName string
	// Endpoint はOTLP/gRPCの送信先。空の場合はトレースを無効にする。
	Endpoint string
	Insecure bool
}

// Setup はOTLPエクスポータを使うトレースプロバイダをグローバルに設定する。
// 送信先が未設定、またはエクスポータの生成に失敗した場合は何もしない停止関数を返す。
func Setup(ctx context.Context, cfg Config) ShutdownFunc {
	noop := func(context.Context) error { return nil }
	if cfg.Endpoint == "" {
		return noop
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		slog.Error("failed to create otlp exporter", slog.String("error", err.Error()))
		return noop
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		slog.Warn("failed to build otel resource", slog.String("error", err.Error()))
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	slog.Info("tracing enabled",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("service", cfg.ServiceName),
	)
	return provider.Shutdown
}
