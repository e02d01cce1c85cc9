package main

import "testing"

func TestPahoServer(t *testing.T) {
	tests := map[string]string{
		"mqtt://127.0.0.1:1883":     "tcp://127.0.0.1:1883",
		"mqtts://broker:8883":       "ssl://broker:8883",
		"tls://broker:8883":         "ssl://broker:8883",
		"ws://127.0.0.1:8083/mqtt":  "ws://127.0.0.1:8083/mqtt",
		"wss://broker.example/mqtt": "wss://broker.example/mqtt",
	}
	for in, want := range tests {
		got, err := pahoServer(in)
		if err != nil || got != want {
			t.Errorf("pahoServer(%s) = %s, %v, want %s", in, got, err, want)
		}
	}
}
