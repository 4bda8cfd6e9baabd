package seed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/sandeepkv93/product-catalog-backend/internal/database"
	"github.com/sandeepkv93/product-catalog-backend/internal/repository"
	"github.com/sandeepkv93/product-catalog-backend/internal/tools/common"
)

const exitCode = 3

type options struct {
	envFile string
	timeout time.Duration
	dryRun  bool
	ci      bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "seed",
		Short:         "Insert the sample product catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "path to env file")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "operation timeout")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newApplyCommand(opts))
	return cmd
}

func newApplyCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Insert sample products whose names are not stored yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "apply"
			if opts.dryRun {
				name = "dry-run"
			}
			return common.Execute(common.Command{
				Tool:     "seed",
				Name:     name,
				CI:       opts.ci,
				Timeout:  opts.timeout,
				ExitCode: exitCode,
			}, func(ctx context.Context) ([]string, error) {
				_, db, closeDB, err := common.OpenDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				defer closeDB()
				return Apply(ctx, db, opts.dryRun)
			})
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "report what would be inserted without writing")
	return cmd
}

// Apply seeds the sample catalog into db and describes the outcome.
func Apply(ctx context.Context, db *gorm.DB, dryRun bool) ([]string, error) {
	report, err := database.SeedProducts(ctx, db, repository.NewProductRepository(db), database.SampleProducts(), dryRun)
	if err != nil {
		return nil, err
	}
	verb := "created"
	if report.DryRun {
		verb = "would_create"
	}
	details := []string{
		fmt.Sprintf("planned=%d", report.Planned),
		fmt.Sprintf("%s=%d", verb, report.Created),
		fmt.Sprintf("skipped=%d", report.Skipped),
	}
	if len(report.Names) > 0 {
		details = append(details, "products: "+strings.Join(report.Names, ", "))
	}
	return details, nil
}
