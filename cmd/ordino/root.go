package ordino

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/soundprediction/ordino"
	"github.com/soundprediction/ordino/pkg/config"
	"github.com/soundprediction/ordino/pkg/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "ordino",
		Short: "Ordino: neural ranker training and evaluation",
		Long: `Ordino trains neural re-rankers for ad-hoc retrieval on pairwise
triples and evaluates them against TREC-style test collections.

An experiment moves through three stages, each a subcommand:

  index      ingest the corpus and build the full-text index
  train      run the training loop with checkpoints and validation
  evaluate   rank a test collection with a trained model

Complete documentation is available at https://github.com/soundprediction/ordino`,
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./ordino.yaml)")
	rootCmd.PersistentFlags().String("dir", "", "experiment directory")
	rootCmd.PersistentFlags().String("run", "", "run name")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "color", "log format (color, text, json)")

	// Bind flags to viper
	viper.BindPFlag("dir", rootCmd.PersistentFlags().Lookup("dir"))
	viper.BindPFlag("run", rootCmd.PersistentFlags().Lookup("run"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for "ordino.yaml" in the working directory.
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("ordino")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// buildExperiment loads the configuration, applies command-line overrides
// and wires the experiment with its logger.
func buildExperiment(cmd *cobra.Command) (*ordino.Experiment, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	overrideConfigWithFlags(cmd, cfg)

	log := logger.New(os.Stderr, logger.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	slog.SetDefault(log)

	exp, err := ordino.NewExperiment(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return exp, log, nil
}

// overrideConfigWithFlags applies command-line flags over the loaded
// configuration. Only flags the user actually set are applied.
func overrideConfigWithFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	// Data flags
	if flags.Changed("corpus") {
		cfg.Data.Corpus, _ = flags.GetString("corpus")
	}
	if flags.Changed("topics") {
		cfg.Data.Topics, _ = flags.GetString("topics")
	}
	if flags.Changed("qrels") {
		cfg.Data.Qrels, _ = flags.GetString("qrels")
	}
	if flags.Changed("triples") {
		cfg.Data.Triples, _ = flags.GetString("triples")
	}

	// Training flags
	if flags.Changed("max-epochs") {
		cfg.Training.MaxEpochs, _ = flags.GetInt64("max-epochs")
	}
	if flags.Changed("steps-per-epoch") {
		cfg.Training.StepsPerEpoch, _ = flags.GetInt64("steps-per-epoch")
	}
	if flags.Changed("loss") {
		cfg.Training.Loss, _ = flags.GetString("loss")
	}
	if flags.Changed("seed") {
		cfg.Training.Seed, _ = flags.GetInt64("seed")
	}

	// Monitor flags
	if flags.Changed("monitor") {
		cfg.Monitor.Enabled, _ = flags.GetBool("monitor")
	}
	if flags.Changed("monitor-port") {
		cfg.Monitor.Port, _ = flags.GetInt("monitor-port")
	}
}
