package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"quiz-attempt-service/internal/cli"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
