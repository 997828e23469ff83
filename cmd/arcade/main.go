package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/canopy-network/arcadex/app/arcade"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app := arcade.Initialize(ctx)

	app.Start(ctx)
}
