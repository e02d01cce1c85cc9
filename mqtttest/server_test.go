package mqtttest

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang-io/iotmqtt/packet"
)

func pahoClient(t *testing.T, broker, id string) paho.Client {
	t.Helper()
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(id).
		SetAutoReconnect(false).
		SetConnectTimeout(5 * time.Second)
	client := paho.NewClient(opts)
	if tok := client.Connect(); !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
		t.Fatalf("paho connect to %s: %v", broker, tok.Error())
	}
	t.Cleanup(func() { client.Disconnect(100) })
	return client
}

func TestPahoInterop(t *testing.T) {
	s := NewServer()
	defer s.Close()

	for name, broker := range map[string]string{
		"tcp":       "tcp://" + strings.TrimPrefix(s.URL, "mqtt://"),
		"websocket": s.WSURL,
	} {
		t.Run(name, func(t *testing.T) {
			sub := pahoClient(t, broker, "sub-"+name)
			pub := pahoClient(t, broker, "pub-"+name)

			got := make(chan paho.Message, 3)
			if tok := sub.Subscribe("interop/"+name+"/#", 2, func(_ paho.Client, m paho.Message) { got <- m }); !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
				t.Fatalf("subscribe: %v", tok.Error())
			}
			for qos := byte(0); qos <= 2; qos++ {
				if tok := pub.Publish("interop/"+name+"/x", qos, false, []byte{'0' + qos}); !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
					t.Fatalf("publish qos %d: %v", qos, tok.Error())
				}
			}

			seen := map[string]bool{}
			for i := 0; i < 3; i++ {
				select {
				case m := <-got:
					seen[string(m.Payload())] = true
				case <-time.After(5 * time.Second):
					t.Fatalf("received %v, want payloads 0, 1 and 2", seen)
				}
			}
		})
	}
}

func TestRefusedConnect(t *testing.T) {
	s := NewServer()
	defer s.Close()
	s.SetConnackCode(packet.ErrNotAuthorized.Code)

	client := paho.NewClient(paho.NewClientOptions().AddBroker("tcp://" + strings.TrimPrefix(s.URL, "mqtt://")).SetAutoReconnect(false))
	tok := client.Connect()
	if !tok.WaitTimeout(5 * time.Second) {
		t.Fatal("connect did not finish")
	}
	if tok.Error() == nil {
		t.Fatal("connect succeeded, want refusal")
	}
}

func TestWaitReceived(t *testing.T) {
	s := NewServer()
	defer s.Close()

	client := pahoClient(t, "tcp://"+strings.TrimPrefix(s.URL, "mqtt://"), "waiter")
	client.Publish("a/b", 0, false, "x").Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pkts, err := s.WaitReceived(ctx, packet.KindPublish, 1)
	if err != nil {
		t.Fatal(err)
	}
	pub := pkts[0].(*packet.PUBLISH)
	if pub.Message.TopicName != "a/b" || string(pub.Message.Content) != "x" {
		t.Errorf("PUBLISH = %s %q", pub.Message.TopicName, pub.Message.Content)
	}
	if got := s.Received(packet.KindConnect); len(got) != 1 {
		t.Errorf("CONNECT received %d times, want 1", len(got))
	}

	short, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if _, err := s.WaitReceived(short, packet.KindSubscribe, 1); err == nil {
		t.Error("WaitReceived without SUBSCRIBE returned nil error")
	}
}

func TestLastWillOnKick(t *testing.T) {
	s := NewServer()
	defer s.Close()
	broker := "tcp://" + strings.TrimPrefix(s.URL, "mqtt://")

	watcher := pahoClient(t, broker, "watcher")
	got := make(chan string, 1)
	watcher.Subscribe("will/+", 1, func(_ paho.Client, m paho.Message) { got <- string(m.Payload()) }).Wait()

	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("dying").SetAutoReconnect(false).SetWill("will/dying", "gone", 1, false)
	dying := paho.NewClient(opts)
	if tok := dying.Connect(); !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
		t.Fatalf("connect: %v", tok.Error())
	}
	defer dying.Disconnect(0)

	s.KickClient("dying")

	select {
	case payload := <-got:
		if payload != "gone" {
			t.Errorf("will payload = %q, want gone", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("will not published")
	}
}

func TestRecordLimit(t *testing.T) {
	s := NewServer()
	defer s.Close()
	s.RecordLimit(2)

	client := pahoClient(t, "tcp://"+strings.TrimPrefix(s.URL, "mqtt://"), "limited")
	for i := 0; i < 5; i++ {
		client.Publish("limit", 1, false, []byte{'0' + byte(i)}).Wait()
	}

	pubs := s.Received(packet.KindPublish)
	if len(pubs) < 2 || len(pubs) > 4 {
		t.Fatalf("kept %d PUBLISH packets, want between 2 and 4", len(pubs))
	}
	if last := pubs[len(pubs)-1].(*packet.PUBLISH); string(last.Message.Content) != "4" {
		t.Errorf("newest PUBLISH = %q, want 4", last.Message.Content)
	}
	if got := s.Received(packet.KindConnect); len(got) != 0 {
		t.Errorf("CONNECT still recorded after limit: %d", len(got))
	}
}

func TestListenAddress(t *testing.T) {
	if _, err := Listen(slog.Default(), "256.0.0.1:0", "127.0.0.1:0"); err == nil {
		t.Fatal("Listen on an invalid address returned nil error")
	}
	s, err := Listen(slog.Default(), "127.0.0.1:0", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if !strings.HasPrefix(s.URL, "mqtt://127.0.0.1:") || !strings.HasSuffix(s.WSURL, Path) {
		t.Errorf("URL = %s, WSURL = %s", s.URL, s.WSURL)
	}
}
