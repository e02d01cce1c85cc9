// Command mqtt-client connects to a broker, prints the messages of its subscriptions and
// optionally publishes messages at a fixed interval.
//
//	mqtt-client -config client.yaml -s 'sensors/#' -t sensors/a -q 1 -n 10
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	mqtt "github.com/golang-io/iotmqtt"
	"github.com/golang-io/iotmqtt/internal/config"
	"github.com/golang-io/requests"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// errFinished stops the program once every requested message is published.
var errFinished = errors.New("finished")

type filters []string

func (f *filters) String() string     { return strings.Join(*f, ",") }
func (f *filters) Set(v string) error { *f = append(*f, v); return nil }

func main() {
	var subs filters
	configPath := flag.String("config", "", "Path to YAML config file")
	topicName := flag.String("t", "", "Topic to publish to")
	message := flag.String("m", "", "Message to publish, the current time when empty")
	qos := flag.Uint("q", 0, "QoS of publishes and subscriptions")
	retain := flag.Bool("r", false, "Publish with the retain flag")
	count := flag.Int("n", 0, "Number of messages to publish, 0 publishes until interrupted")
	interval := flag.Duration("i", time.Second, "Interval between publishes")
	jsonOut := flag.Bool("json", false, "Print messages as JSON lines")
	flag.Var(&subs, "s", "Topic filter to subscribe to, may be repeated")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger := cfg.Logger()

	stat := mqtt.NewStat(nil)
	if err := stat.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatalf("register metrics: %v", err)
	}

	out := newPrinter(os.Stdout, *jsonOut)
	opts := append(cfg.Options(),
		mqtt.Logger(logger),
		mqtt.Metrics(stat),
		mqtt.OnStatus(out.status),
		mqtt.OnMessage(out.message),
	)
	c, err := mqtt.New(opts...)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	group, ctx := errgroup.WithContext(context.Background())
	group.Go(func() error {
		ignore := make(chan os.Signal, 1)
		sign := make(chan os.Signal, 1)
		signal.Notify(ignore, syscall.SIGHUP)
		signal.Notify(sign, os.Interrupt, syscall.SIGTERM)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-sign:
			return fmt.Errorf("got sign: %s", sig)
		}
	})

	if cfg.Metrics.URL != "" {
		group.Go(func() error {
			return httpd(ctx, cfg.Metrics.URL, logger)
		})
	}

	group.Go(func() error {
		defer disconnect(c, logger)
		if err := c.Connect(ctx); err != nil {
			return err
		}
		for _, filter := range subs {
			if _, err := c.Subscribe(ctx, filter, byte(*qos), nil); err != nil {
				return err
			}
		}
		if *topicName == "" {
			<-ctx.Done()
			return ctx.Err()
		}
		return publish(ctx, c, *topicName, *message, byte(*qos), *retain, *count, *interval)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, errFinished) {
		log.Fatal(err)
	}
}

func publish(ctx context.Context, c *mqtt.Client, topicName, message string, qos byte, retain bool, count int, interval time.Duration) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for i := 0; count == 0 || i < count; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		payload := message
		if payload == "" {
			payload = time.Now().Format("2006-01-02 15:04:05")
		}
		if err := c.Publish(ctx, topicName, []byte(payload), qos, retain); err != nil {
			return fmt.Errorf("publish %d: %w", i, err)
		}
		timer.Reset(interval)
	}
	return errFinished
}

func disconnect(c *mqtt.Client, logger *slog.Logger) {
	if c.State() != mqtt.StateConnected {
		return
	}
	if err := c.Disconnect(context.Background()); err != nil {
		logger.Warn("disconnect failed", "error", err)
	}
}

// httpd serves /metrics and pprof until ctx is done.
func httpd(ctx context.Context, listen string, logger *slog.Logger) error {
	mux := requests.NewServeMux(requests.URL(listen), requests.Logf(serverLog(logger)))
	mux.Route("/metrics", promhttp.Handler())
	mux.Pprof()
	s := requests.NewServer(ctx, mux, requests.OnStart(func(s *http.Server) {
		logger.Info("http serve", "addr", s.Addr)
	}))
	if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func serverLog(logger *slog.Logger) func(context.Context, *requests.Stat) {
	return func(ctx context.Context, stat *requests.Stat) {
		b, err := json.Marshal(stat.Request.Body)
		logger.DebugContext(ctx, stat.Print(), "body", string(b), "error", err)
	}
}
