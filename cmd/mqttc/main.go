// Command mqttc publishes and subscribes against MQTT 3.1 and 3.1.1 brokers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/vitalvas/mqttclient/cmd/mqttc/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.NewRootCommand(ctx).Execute(); err != nil {
		stop()
		os.Exit(1)
	}
}
