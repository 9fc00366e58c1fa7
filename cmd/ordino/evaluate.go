package ordino

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soundprediction/ordino"
	"github.com/soundprediction/ordino/pkg/evaluation"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Rank a test collection with a trained model",
	Long: `Rank a test collection and report ranking measures.

By default the latest checkpoint parameters are evaluated; --best selects
the model retained for a keep-best validation measure instead. --baseline
ranks with the configured LLM relevance scorer and needs no training
state.`,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().String("topics", "", "topics file (qid<TAB>text)")
	evaluateCmd.Flags().String("qrels", "", "assessments file (TREC qrels)")
	evaluateCmd.Flags().String("best", "", "evaluate the model retained for this measure")
	evaluateCmd.Flags().StringSlice("measures", nil, "measures to report (e.g. RR@10,map,ndcg@10)")
	evaluateCmd.Flags().Int("depth", 0, "ranking depth per topic")
	evaluateCmd.Flags().String("tag", "", "run file tag")
	evaluateCmd.Flags().Bool("baseline", false, "rank with the configured LLM scorer")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	exp, _, err := buildExperiment(cmd)
	if err != nil {
		return err
	}
	defer exp.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flags := cmd.Flags()
	opts := &ordino.EvaluateOptions{}
	opts.TopicsPath, _ = flags.GetString("topics")
	opts.QrelsPath, _ = flags.GetString("qrels")
	opts.Measure, _ = flags.GetString("best")
	opts.Measures, _ = flags.GetStringSlice("measures")
	opts.Depth, _ = flags.GetInt("depth")
	opts.Tag, _ = flags.GetString("tag")

	baseline, _ := flags.GetBool("baseline")
	var report *evaluation.Report
	if baseline {
		report, err = exp.Baseline(ctx, opts)
	} else {
		report, err = exp.Evaluate(ctx, opts)
	}
	if err != nil {
		return err
	}
	fmt.Print(report.String())
	return nil
}
