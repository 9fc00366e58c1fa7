package main

import (
	"os"

	"github.com/soundprediction/ordino/cmd/ordino"
)

func main() {
	if err := ordino.Execute(); err != nil {
		os.Exit(1)
	}
}
