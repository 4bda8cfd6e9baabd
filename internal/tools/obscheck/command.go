package obscheck

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
	"github.com/spf13/cobra"

	"github.com/sandeepkv93/product-catalog-backend/internal/tools/common"
	"github.com/sandeepkv93/product-catalog-backend/internal/tools/loadgen"
)

const exitCode = 4

// requiredFamilies are the metric name prefixes a healthy, exercised server
// exposes on /metrics.
var requiredFamilies = []string{
	"product_operation_events",
	"product_operation_duration",
	"repository_operations",
}

type options struct {
	baseURL    string
	serviceURL string
	traffic    time.Duration
	ci         bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "obscheck",
		Short:         "Verify readiness and product metrics of a running server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:3000", "API base URL including API_PREFIX")
	cmd.PersistentFlags().StringVar(&opts.serviceURL, "service-url", "", "server root for /health and /metrics (defaults to base-url)")
	cmd.PersistentFlags().DurationVar(&opts.traffic, "traffic", 3*time.Second, "duration of generated traffic before scraping")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Check readiness, generate traffic and validate exposed metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return common.Execute(common.Command{
				Tool:     "obscheck",
				Name:     "run",
				CI:       opts.ci,
				Timeout:  opts.traffic + 30*time.Second,
				ExitCode: exitCode,
			}, func(ctx context.Context) ([]string, error) {
				return Check(ctx, Options{
					BaseURL:    opts.baseURL,
					ServiceURL: opts.serviceURL,
					Traffic:    opts.traffic,
				})
			})
		},
	}
}

type Options struct {
	BaseURL    string
	ServiceURL string
	Traffic    time.Duration
	Client     *http.Client
}

// Check probes readiness, drives a short mixed load and then confirms the
// product metric families are exposed.
func Check(ctx context.Context, opts Options) ([]string, error) {
	if opts.ServiceURL == "" {
		opts.ServiceURL = opts.BaseURL
	}
	opts.ServiceURL = strings.TrimRight(opts.ServiceURL, "/")
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}

	if err := expectStatus(ctx, opts.Client, opts.ServiceURL+"/health/ready", http.StatusOK); err != nil {
		return nil, err
	}
	details := []string{"readiness: ok"}

	res, err := loadgen.Run(ctx, loadgen.Config{
		BaseURL:     opts.BaseURL,
		Profile:     "mixed",
		Duration:    opts.Traffic,
		RPS:         20,
		Concurrency: 4,
		Seed:        42,
		Client:      opts.Client,
	})
	if err != nil {
		return details, err
	}
	details = append(details, fmt.Sprintf("traffic generated total=%d failures=%d", res.TotalRequests, res.Failures))
	if res.TotalRequests == 0 {
		return details, fmt.Errorf("no requests reached %s", opts.BaseURL)
	}

	families, err := scrapeFamilies(ctx, opts.Client, opts.ServiceURL+"/metrics")
	if err != nil {
		return details, err
	}
	var missing []string
	for _, want := range requiredFamilies {
		if !slices.ContainsFunc(families, func(name string) bool { return strings.HasPrefix(name, want) }) {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return details, fmt.Errorf("metrics missing: %s", strings.Join(missing, ", "))
	}
	details = append(details, fmt.Sprintf("metrics: %d families exposed, product metrics present", len(families)))
	return details, nil
}

func expectStatus(ctx context.Context, client *http.Client, url string, want int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return fmt.Errorf("GET %s: expected %d, got %s", url, want, resp.Status)
	}
	return nil
}

func scrapeFamilies(ctx context.Context, client *http.Client, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrape %s: %s", url, resp.Status)
	}
	parser := expfmt.NewTextParser(model.UTF8Validation)
	parsed, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse metrics exposition: %w", err)
	}
	names := make([]string, 0, len(parsed))
	for name := range parsed {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}
