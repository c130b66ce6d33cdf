package main

import (
	"flag"
	"fmt"
	"os"

	"CompassChat/internal/chatbot"
	"CompassChat/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	// Local .env is a convenience for development; absence is not an error.
	_ = godotenv.Load()

	cfg := config.Load()
	var noStream bool

	flag.StringVar(&cfg.APIBase, "api-base", cfg.APIBase, "Backend API base URL")
	flag.StringVar(&cfg.Origin, "origin", cfg.Origin, "Origin the client acts on behalf of")
	flag.StringVar(&cfg.Token, "token", cfg.Token, "Bearer token for authenticated requests")
	flag.StringVar(&cfg.ArchivePath, "archive", cfg.ArchivePath, "SQLite transcript archive path")
	flag.BoolVar(&noStream, "no-stream", false, "Disable incremental streaming of replies")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if noStream {
		cfg.Streaming = false
	}

	app, err := chatbot.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
