package main

import (
	"log/slog"

	"github.com/soundprediction/ordino/pkg/logger"
)

func main() {
	// Create a colored logger
	log := logger.NewDefaultLogger(slog.LevelDebug)

	log.Info("============================================")
	log.Info("      Ordino Colored Logger Demo")
	log.Info("============================================")

	log.Debug("Debug message - standard color")
	log.Info("Info message - standard color")
	log.Info("new best model retained - green!")
	log.Warn("Warning message - yellow!")
	log.Error("Error message - red!")

	log.Info("A training epoch as it appears in the log:")
	log.Info("epoch complete", "epoch", 12, "steps", 128, "loss", 0.231, "accuracy", 0.87)
	log.Info("validation measure", "measure", "mrr@10", "value", 0.342)
	log.Info("new best model retained", "measure", "mrr@10", "value", 0.342, "epoch", 12)

	log.Warn("Warnings appear in yellow for attention")
	log.Error("Errors appear in red for immediate visibility")

	log.Info("Demo complete!")
}
