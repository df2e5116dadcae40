package main

import (
	"os"

	"daily-quiz-composer/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
