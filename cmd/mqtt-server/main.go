// Command mqtt-server runs the development broker from package mqtttest on the addresses
// of the server section of the config file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-io/iotmqtt/internal/config"
	"github.com/golang-io/iotmqtt/mqtttest"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger := cfg.Logger()

	s, err := mqtttest.Listen(logger, cfg.Server.TCP, cfg.Server.WebSocket)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer s.Close()
	s.RecordLimit(cfg.Server.Keep)
	logger.Info("mqtt serve", "tcp", s.URL, "websocket", s.WSURL)

	group, ctx := errgroup.WithContext(context.Background())
	group.Go(func() error {
		sign := make(chan os.Signal, 1)
		signal.Notify(sign, os.Interrupt, syscall.SIGTERM)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-sign:
			return fmt.Errorf("got sign: %s", sig)
		}
	})
	err = group.Wait()
	logger.Info("mqtt server stopped", "reason", err, "connections", s.Connections())
}
