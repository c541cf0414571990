package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/dmorgan81/sdclient/internal/config"
	"github.com/dmorgan81/sdclient/internal/handler"
	"github.com/dmorgan81/sdclient/internal/inject"
	"github.com/dmorgan81/sdclient/internal/log"
	"github.com/dmorgan81/sdclient/internal/style"
	"github.com/samber/do"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.New(os.Stderr, "error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := log.New(os.Stderr, cfg.LogLevel)
	ctx := log.NewContext(context.Background(), logger)
	injector := inject.Setup(ctx, cfg)

	catalog, err := do.Invoke[*style.Catalog](injector)
	if err != nil {
		logger.Error("failed to load style catalog", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded style catalog", "styles", catalog.Names())

	var handle any
	switch cfg.Handler {
	case config.HandlerPage:
		handle = do.MustInvoke[*handler.PageHandler](injector).Handle
	default:
		handle = do.MustInvoke[*handler.Handler](injector).Handle
	}
	logger.Info("starting lambda", "handler", cfg.Handler)
	lambda.StartWithOptions(handle, lambda.WithContext(ctx), lambda.WithEnableSIGTERM(func() {
		_ = injector.Shutdown()
	}))
}
