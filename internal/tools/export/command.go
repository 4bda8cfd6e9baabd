package export

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/product-catalog-backend/internal/http/dto"
	"github.com/sandeepkv93/product-catalog-backend/internal/repository"
	"github.com/sandeepkv93/product-catalog-backend/internal/service"
	"github.com/sandeepkv93/product-catalog-backend/internal/storage"
	"github.com/sandeepkv93/product-catalog-backend/internal/tools/common"
)

const (
	exitCode      = 5
	schemaVersion = 1
)

type options struct {
	envFile string
	timeout time.Duration
	ci      bool
}

// Snapshot is the document written for one export run.
type Snapshot struct {
	SchemaVersion int                   `json:"schema_version"`
	ExportedAt    string                `json:"exported_at"`
	Count         int                   `json:"count"`
	Products      []dto.ProductResponse `json:"products"`
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "export",
		Short:         "Catalog snapshots in object storage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "path to env file")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", time.Minute, "operation timeout")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newRunCommand(opts), newListCommand(opts))
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Write a JSON snapshot of every product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return common.Execute(common.Command{
				Tool:     "export",
				Name:     "run",
				CI:       opts.ci,
				Timeout:  opts.timeout,
				ExitCode: exitCode,
			}, func(ctx context.Context) ([]string, error) {
				cfg, db, closeDB, err := common.OpenDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				defer closeDB()
				store, err := storage.NewSnapshotStoreFromConfig(cfg)
				if err != nil {
					return nil, err
				}
				svc := service.NewProductService(repository.NewProductRepository(db))
				info, snap, err := Export(ctx, svc, store, time.Now)
				if err != nil {
					return nil, err
				}
				return []string{
					fmt.Sprintf("products=%d", snap.Count),
					"bucket=" + store.Bucket(),
					"key=" + info.Key,
					fmt.Sprintf("bytes=%d", info.Size),
				}, nil
			})
		},
	}
}

func newListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return common.Execute(common.Command{
				Tool:     "export",
				Name:     "list",
				CI:       opts.ci,
				Timeout:  opts.timeout,
				ExitCode: exitCode,
			}, func(ctx context.Context) ([]string, error) {
				cfg, err := common.LoadConfig(opts.envFile)
				if err != nil {
					return nil, err
				}
				store, err := storage.NewSnapshotStoreFromConfig(cfg)
				if err != nil {
					return nil, err
				}
				objects, err := store.List(ctx)
				if err != nil {
					return nil, err
				}
				details := []string{fmt.Sprintf("snapshots=%d", len(objects))}
				for _, obj := range objects {
					details = append(details, fmt.Sprintf("%s (%d bytes)", obj.Key, obj.Size))
				}
				return details, nil
			})
		},
	}
}

// Export reads the whole catalog through svc and writes it to store.
func Export(ctx context.Context, svc service.ProductService, store storage.SnapshotStore, now func() time.Time) (storage.ObjectInfo, Snapshot, error) {
	products, err := svc.List(ctx)
	if err != nil {
		return storage.ObjectInfo{}, Snapshot{}, err
	}
	snap := Snapshot{
		SchemaVersion: schemaVersion,
		ExportedAt:    now().UTC().Format(dto.TimestampLayout),
		Count:         len(products),
		Products:      dto.ToProductResponseList(products),
	}
	info, err := store.Put(ctx, snap)
	if err != nil {
		return storage.ObjectInfo{}, snap, err
	}
	return info, snap, nil
}
