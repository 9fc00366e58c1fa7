package ordino

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Ingest the corpus and build the full-text index",
	Long: `Ingest the configured corpus into the document store and build the
full-text index used for first-stage retrieval.

The corpus is a file of "docid<TAB>text" lines, optionally gzipped.
Documents are keyed by identifier, so re-running replaces them in place
and rebuilds the index.`,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)

	indexCmd.Flags().String("corpus", "", "corpus file (docid<TAB>text, optionally gzipped)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	exp, log, err := buildExperiment(cmd)
	if err != nil {
		return err
	}
	defer exp.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	count, err := exp.BuildIndex(ctx)
	if err != nil {
		return err
	}
	log.Info("indexing finished", "documents", count)
	return nil
}
