package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/filler/internal/infra/storage/sqlstore"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the checkpoint of every reader",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	db, err := sqlstore.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	repo := sqlstore.NewCheckpointRepo(db)
	cps, err := repo.ListCheckpoints(ctx)
	if err != nil {
		slog.Error("Failed to query checkpoints", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "READER\tBLOCK\tID\tIRREVERSIBLE\tRETAINED\tUPDATED")

	for _, cp := range cps {
		retained, err := repo.GetRetainedBlocks(ctx, cp.Reader)
		if err != nil {
			slog.Warn("Failed to load retained blocks", "reader", cp.Reader, "error", err)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\t%s\n",
			cp.Reader, cp.BlockNum, cp.BlockID, cp.IrreversibleNum, len(retained),
			cp.UpdatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}
