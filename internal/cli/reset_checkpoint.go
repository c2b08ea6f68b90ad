package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/filler/internal/infra/storage/sqlstore"
)

var resetCheckpointCmd = &cobra.Command{
	Use:   "reset-checkpoint [reader]",
	Short: "Forget the checkpoint and retained blocks of a reader",
	Long: `Removes the checkpoint, retained block window and undo journal of a reader.
Rows already written by handlers are kept; the next run upserts over them.`,
	Args: cobra.ExactArgs(1),
	Run:  runResetCheckpoint,
}

func init() {
	rootCmd.AddCommand(resetCheckpointCmd)
}

func runResetCheckpoint(cmd *cobra.Command, args []string) {
	reader := args[0]
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

	if err := sqlstore.NewCheckpointRepo(db).Reset(ctx, reader); err != nil {
		slog.Error("Failed to reset checkpoint", "reader", reader, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully reset checkpoint for %s\n", reader)
}
