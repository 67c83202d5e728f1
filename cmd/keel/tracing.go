package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jingkaihe/keel/pkg/logger"
	"github.com/jingkaihe/keel/pkg/telemetry"
	"github.com/jingkaihe/keel/pkg/version"
)

var (
	tracer = telemetry.Tracer("keel.cli")

	envKeyReplacer = strings.NewReplacer(".", "_", "-", "_")

	sensitiveFlags = map[string]bool{"api-key": true, "token": true}
)

func initTracing(ctx context.Context) (func(context.Context) error, error) {
	return telemetry.Init(ctx, telemetry.Config{
		Enabled:        viper.GetBool("tracing.enabled"),
		ServiceName:    "keel",
		ServiceVersion: version.Get().Version,
		Sampler:        viper.GetString("tracing.sampler"),
		Ratio:          viper.GetFloat64("tracing.ratio"),
	})
}

// withTracing wraps a command's RunE in a root span, installing the tracer
// provider first and flushing it afterwards.
func withTracing(cmd *cobra.Command) *cobra.Command {
	originalRunE := cmd.RunE

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		shutdown, err := initTracing(ctx)
		if err != nil {
			logger.G(ctx).WithError(err).Warn("failed to initialize tracing")
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.G(ctx).WithError(err).Warn("failed to flush traces")
				}
			}()
		}

		attrs := []attribute.KeyValue{
			attribute.String("command.name", cmd.Name()),
			attribute.String("command.path", cmd.CommandPath()),
			attribute.Int("args.count", len(args)),
		}
		cmd.Flags().Visit(func(flag *pflag.Flag) {
			if !sensitiveFlags[flag.Name] {
				attrs = append(attrs, attribute.String("flag."+flag.Name, flag.Value.String()))
			}
		})

		ctx, span := tracer.Start(ctx, "cli.command", trace.WithAttributes(attrs...))
		cmd.SetContext(ctx)

		err = originalRunE(cmd, args)
		telemetry.Finish(span, err)
		return err
	}
	return cmd
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.Bool("tracing-enabled", false, "Enable OpenTelemetry tracing")
	flags.String("tracing-sampler", "ratio", "Tracing sampler type (always, never, ratio)")
	flags.Float64("tracing-ratio", 1, "Sampling ratio when using the ratio sampler")

	viper.BindPFlag("tracing.enabled", flags.Lookup("tracing-enabled"))
	viper.BindPFlag("tracing.sampler", flags.Lookup("tracing-sampler"))
	viper.BindPFlag("tracing.ratio", flags.Lookup("tracing-ratio"))
}
