// Command benchmark measures publish throughput: N clients publish M messages each while
// a paho subscriber counts what the broker delivers.
//
//	benchmark -url mqtt://127.0.0.1:1883 -c 10 -n 1000 -q 1
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	mqtt "github.com/golang-io/iotmqtt"
	"golang.org/x/sync/errgroup"
)

func main() {
	url := flag.String("url", "mqtt://127.0.0.1:1883", "Broker URL")
	clients := flag.Int("c", 10, "Number of publishing clients")
	messages := flag.Int("n", 1000, "Messages per client")
	qos := flag.Uint("q", 1, "QoS of publishes and the subscription")
	size := flag.Int("s", 64, "Payload size in bytes")
	window := flag.Int("w", 16, "In-flight window per client")
	wait := flag.Duration("wait", 30*time.Second, "How long to wait for deliveries")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	total := *clients * *messages

	sub, err := newCounter(*url, byte(*qos), total)
	if err != nil {
		log.Fatalf("subscriber: %v", err)
	}
	defer sub.close()

	ctx, cancel := context.WithTimeout(context.Background(), *wait)
	defer cancel()

	payload := make([]byte, *size)
	start := time.Now()
	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *clients; i++ {
		i := i
		c, err := mqtt.New(
			mqtt.URL(*url),
			mqtt.Window(*window),
			mqtt.Admission(mqtt.PublishBlock),
			mqtt.Logger(logger),
		)
		if err != nil {
			log.Fatal(err)
		}
		defer c.Close()
		group.Go(func() error {
			return publish(gctx, c, fmt.Sprintf("bench/%02d", i), payload, byte(*qos), *messages)
		})
	}
	if err := group.Wait(); err != nil {
		log.Fatalf("publish: %v", err)
	}
	published := time.Since(start)

	received := sub.wait(ctx)
	delivered := time.Since(start)

	ok := color.New(color.FgGreen, color.Bold)
	if received < total {
		ok = color.New(color.FgRed, color.Bold)
	}
	fmt.Printf("clients=%d messages=%d qos=%d size=%d\n", *clients, total, *qos, *size)
	fmt.Printf("published in %s (%.0f msg/s)\n", published, float64(total)/published.Seconds())
	fmt.Printf("delivered %s in %s (%.0f msg/s)\n", ok.Sprintf("%d/%d", received, total), delivered, float64(received)/delivered.Seconds())
}

func publish(ctx context.Context, c *mqtt.Client, topicName string, payload []byte, qos byte, n int) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	toks := make([]*mqtt.Token, 0, n)
	for i := 0; i < n; i++ {
		tok, err := c.PublishAsync(ctx, topicName, payload, qos, false)
		if err != nil {
			return err
		}
		toks = append(toks, tok)
	}
	for _, tok := range toks {
		if err := tok.Wait(ctx); err != nil {
			return err
		}
	}
	return c.Disconnect(ctx)
}
