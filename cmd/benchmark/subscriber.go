package main

import (
	"context"
	"net/url"
	"sync/atomic"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang-io/requests"
)

// counter is an independent paho subscriber on bench/# that counts deliveries.
type counter struct {
	client paho.Client
	n      atomic.Int64
	want   int64
	done   chan struct{}
}

func newCounter(broker string, qos byte, want int) (*counter, error) {
	server, err := pahoServer(broker)
	if err != nil {
		return nil, err
	}
	c := &counter{want: int64(want), done: make(chan struct{})}
	opts := paho.NewClientOptions().
		AddBroker(server).
		SetClientID("bench-" + requests.GenId()).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetOrderMatters(false)
	c.client = paho.NewClient(opts)
	if tok := c.client.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, tok.Error()
	}
	if tok := c.client.Subscribe("bench/#", qos, c.onMessage); tok.Wait() && tok.Error() != nil {
		c.client.Disconnect(0)
		return nil, tok.Error()
	}
	return c, nil
}

func (c *counter) onMessage(paho.Client, paho.Message) {
	if c.n.Add(1) == c.want {
		close(c.done)
	}
}

// wait returns the number of deliveries once all arrived or ctx is done.
func (c *counter) wait(ctx context.Context) int {
	select {
	case <-c.done:
	case <-ctx.Done():
	}
	return int(c.n.Load())
}

func (c *counter) close() {
	c.client.Disconnect(100)
}

// pahoServer maps our URL schemes onto the ones paho understands.
func pahoServer(broker string) (string, error) {
	u, err := url.Parse(broker)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "mqtt":
		u.Scheme = "tcp"
	case "mqtts", "tls":
		u.Scheme = "ssl"
	}
	return u.String(), nil
}
