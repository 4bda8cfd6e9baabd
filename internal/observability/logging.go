package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sandeepkv93/product-catalog-backend/internal/config"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	otlploggrpc "go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/trace"
)

// spanHandler stamps records logged under an active span with its ids so
// log lines can be joined with traces.
type spanHandler struct {
	slog.Handler
}

func (h spanHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h spanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return spanHandler{h.Handler.WithAttrs(attrs)}
}

func (h spanHandler) WithGroup(name string) slog.Handler {
	return spanHandler{h.Handler.WithGroup(name)}
}

// NewBootstrapLogger is used before configuration is available. A nil cfg
// logs at info level.
func NewBootstrapLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil {
		level = logLevel(cfg.LogLevel)
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// InitLogger installs the process logger as slog's default. Records go to
// stdout as JSON and, when lp is set, through the OTel log bridge too.
func InitLogger(cfg *config.Config, lp *sdklog.LoggerProvider) *slog.Logger {
	l := newLogger(cfg, os.Stdout, lp)
	slog.SetDefault(l)
	return l
}

func newLogger(cfg *config.Config, w io.Writer, lp *sdklog.LoggerProvider) *slog.Logger {
	var h slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)})
	if cfg.OTELLogsEnabled && lp != nil {
		h = slog.NewMultiHandler(h, otelslog.NewHandler(cfg.OTELServiceName, otelslog.WithLoggerProvider(lp)))
	}
	l := slog.New(spanHandler{h})
	if cfg.OTELServiceName != "" {
		l = l.With("service", cfg.OTELServiceName)
	}
	return l
}

// InitLogs builds the OTLP log pipeline, or returns nil when it is off.
func InitLogs(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdklog.LoggerProvider, error) {
	if !cfg.OTELLogsEnabled {
		logger.Info("otel logs disabled")
		return nil, nil
	}
	exporter, err := otlploggrpc.New(ctx,
		otlpOptions(cfg, otlploggrpc.WithEndpoint, otlploggrpc.WithInsecure)...)
	if err != nil {
		return nil, fmt.Errorf("create otlp log exporter: %w", err)
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create logs resource: %w", err)
	}
	logger.Info("otel logs initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	), nil
}

// logLevel accepts slog's level names, including offsets like "warn+2".
// Anything unparsable is info.
func logLevel(v string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		return slog.LevelInfo
	}
	return l
}
