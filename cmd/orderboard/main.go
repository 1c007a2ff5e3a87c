package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mekedron/orderboard/internal/cli"
	"github.com/mekedron/orderboard/internal/config"
	"github.com/mekedron/orderboard/internal/domain"
	"github.com/mekedron/orderboard/internal/gateway/orders"
	"github.com/mekedron/orderboard/internal/kvstore"
)

var version = "dev"

func main() {
	store, err := config.NewStore()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	deps := cli.Dependencies{
		Config:    store,
		NewAPI:    newOrdersClient,
		OpenStore: kvstore.Open,
		Version:   version,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	exitCode := cli.Execute(ctx, os.Args[1:], deps, os.Stdout, os.Stderr)
	stop()
	os.Exit(exitCode)
}

func newOrdersClient(cfg domain.SyncConfig) orders.API {
	return orders.NewClient(
		orders.WithEndpoints(orders.EndpointsFor(cfg.BaseURL)),
		orders.WithCredentials(cfg.APIToken, cfg.RestaurantGUID),
		orders.WithRequestMinInterval(cfg.RequestMinGap()),
	)
}
