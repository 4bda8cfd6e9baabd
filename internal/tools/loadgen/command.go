package loadgen

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/product-catalog-backend/internal/tools/common"
)

const exitCode = 4

type options struct {
	baseURL     string
	profile     string
	duration    time.Duration
	rps         int
	concurrency int
	seed        uint64
	ci          bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "loadgen",
		Short:         "Generate product API traffic",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:3000", "API base URL including API_PREFIX")
	cmd.PersistentFlags().StringVar(&opts.profile, "profile", "mixed", "traffic profile: "+strings.Join(Profiles(), "|"))
	cmd.PersistentFlags().DurationVar(&opts.duration, "duration", 15*time.Second, "traffic duration")
	cmd.PersistentFlags().IntVar(&opts.rps, "rps", 20, "requests per second")
	cmd.PersistentFlags().IntVar(&opts.concurrency, "concurrency", 6, "concurrent workers")
	cmd.PersistentFlags().Uint64Var(&opts.seed, "seed", 42, "random seed")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run load generation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return common.Execute(common.Command{
				Tool:     "loadgen",
				Name:     "run",
				CI:       opts.ci,
				Timeout:  opts.duration + 15*time.Second,
				ExitCode: exitCode,
			}, func(ctx context.Context) ([]string, error) {
				res, err := Run(ctx, Config{
					BaseURL:     opts.baseURL,
					Profile:     opts.profile,
					Duration:    opts.duration,
					RPS:         opts.rps,
					Concurrency: opts.concurrency,
					Seed:        opts.seed,
				})
				if err != nil {
					return nil, err
				}
				return Summary(res), nil
			})
		},
	}
}

// Summary renders res as sorted key=value lines.
func Summary(res Result) []string {
	out := []string{
		fmt.Sprintf("total_requests=%d", res.TotalRequests),
		fmt.Sprintf("failures=%d", res.Failures),
	}
	for _, status := range slices.Sorted(maps.Keys(res.ByStatus)) {
		out = append(out, fmt.Sprintf("status_%d=%d", status, res.ByStatus[status]))
	}
	for _, op := range slices.Sorted(maps.Keys(res.ByOperation)) {
		out = append(out, fmt.Sprintf("op_%s=%d", op, res.ByOperation[op]))
	}
	out = append(out,
		"latency_p50="+res.P50.Round(time.Microsecond).String(),
		"latency_p95="+res.P95.Round(time.Microsecond).String(),
		"latency_max="+res.Max.Round(time.Microsecond).String(),
	)
	return out
}
