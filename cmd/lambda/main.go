package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"intake-agent/internal/app"
	"intake-agent/internal/config"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.StoreDynamoDB)
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	app.SetupLogger(cfg)

	h, cleanup, err := app.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to build handler", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	lambda.Start(h.Handle)
}
