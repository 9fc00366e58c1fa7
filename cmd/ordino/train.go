package ordino

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soundprediction/ordino/pkg/jobs"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run the training loop",
	Long: `Train the configured scorer on pairwise triples.

The run checkpoints after every epoch and resumes from the last
checkpoint when restarted; completed epochs are never re-run. With
--monitor the run state is served over HTTP while training. With --async
the run is submitted to the local scheduler, which deduplicates repeated
submissions of the same configuration.`,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().Int64("max-epochs", 0, "total number of epochs")
	trainCmd.Flags().Int64("steps-per-epoch", 0, "optimizer steps per epoch")
	trainCmd.Flags().String("loss", "", "pairwise loss (cross-entropy, softmax, hinge, pointwise, nogueira)")
	trainCmd.Flags().Int64("seed", 0, "experiment seed")
	trainCmd.Flags().Bool("monitor", false, "serve run progress over HTTP")
	trainCmd.Flags().Int("monitor-port", 0, "monitor port")
	trainCmd.Flags().Bool("async", false, "submit the run to the local scheduler")
}

func runTrain(cmd *cobra.Command, args []string) error {
	exp, log, err := buildExperiment(cmd)
	if err != nil {
		return err
	}
	defer exp.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	async, _ := cmd.Flags().GetBool("async")
	if !async {
		return exp.Train(ctx)
	}

	cfg := exp.GetConfig()
	dir := cfg.Jobs.Dir
	if dir == "" {
		dir = cfg.Dir
	}
	scheduler, err := jobs.NewLocalScheduler(dir, cfg.Jobs.MaxConcurrent, log)
	if err != nil {
		return err
	}
	receipt, err := scheduler.Submit(ctx, exp.TrainJob(), jobs.Requirements{})
	if err != nil {
		return err
	}
	log.Info("run submitted", "job", receipt.Name, "dir", receipt.Dir)
	return receipt.Wait(ctx)
}
