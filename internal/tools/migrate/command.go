package migrate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/sandeepkv93/product-catalog-backend/internal/database"
	"github.com/sandeepkv93/product-catalog-backend/internal/tools/common"
)

const exitCode = 3

type options struct {
	envFile string
	timeout time.Duration
	ci      bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Product catalog schema migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "path to env file")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "operation timeout")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")

	cmd.AddCommand(
		newUpCommand(opts),
		newDownCommand(opts),
		newStatusCommand(opts),
	)
	return cmd
}

func newUpCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "up", Up)
		},
	}
}

func newDownCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "down [n]",
		Short: "Roll back the last n migrations (default 1, 0 for all)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 0 {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				steps = n
			}
			return execute(opts, "down", func(ctx context.Context, db *gorm.DB) ([]string, error) {
				return Down(ctx, db, steps)
			})
		},
	}
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "status", Status)
		},
	}
}

func execute(opts *options, name string, fn func(context.Context, *gorm.DB) ([]string, error)) error {
	return common.Execute(common.Command{
		Tool:     "migrate",
		Name:     name,
		CI:       opts.ci,
		Timeout:  opts.timeout,
		ExitCode: exitCode,
	}, func(ctx context.Context) ([]string, error) {
		cfg, db, closeDB, err := common.OpenDB(opts.envFile)
		if err != nil {
			return nil, err
		}
		defer closeDB()
		details, err := fn(ctx, db)
		return append(details, "driver: "+cfg.DBDriver), err
	})
}

// Up applies pending migrations and reports the resulting version.
func Up(ctx context.Context, db *gorm.DB) ([]string, error) {
	before, err := database.Status(ctx, db)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		return nil, err
	}
	after, err := database.Status(ctx, db)
	if err != nil {
		return nil, err
	}
	return []string{
		fmt.Sprintf("applied=%d", len(before.Pending)-len(after.Pending)),
		fmt.Sprintf("version=%d", after.CurrentVersion),
	}, nil
}

// Down rolls back steps migrations; steps == 0 rolls back all of them.
func Down(ctx context.Context, db *gorm.DB, steps int) ([]string, error) {
	before, err := database.Status(ctx, db)
	if err != nil {
		return nil, err
	}
	if before.CurrentVersion == 0 {
		return []string{"nothing to roll back", "version=0"}, nil
	}
	if err := database.MigrateDown(ctx, db, steps); err != nil {
		return nil, err
	}
	after, err := database.Status(ctx, db)
	if err != nil {
		return nil, err
	}
	return []string{
		fmt.Sprintf("rolled_back_from=%d", before.CurrentVersion),
		fmt.Sprintf("version=%d", after.CurrentVersion),
	}, nil
}

func Status(ctx context.Context, db *gorm.DB) ([]string, error) {
	st, err := database.Status(ctx, db)
	if err != nil {
		return nil, err
	}
	details := []string{
		"dialect=" + st.Dialect,
		fmt.Sprintf("version=%d", st.CurrentVersion),
		fmt.Sprintf("latest=%d", st.LatestVersion),
		fmt.Sprintf("pending=%v", st.Pending),
	}
	if st.Dirty {
		details = append(details, "dirty=true")
		return details, fmt.Errorf("schema version %d is dirty", st.CurrentVersion)
	}
	return details, nil
}
