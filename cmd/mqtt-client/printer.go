package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	mqtt "github.com/golang-io/iotmqtt"
)

// printer writes messages and status changes to w. The client calls it from a single
// goroutine.
type printer struct {
	w    io.Writer
	enc  *json.Encoder
	json bool

	topic   *color.Color
	meta    *color.Color
	up      *color.Color
	down    *color.Color
	pending *color.Color
}

type record struct {
	Time    time.Time `json:"time"`
	Topic   string    `json:"topic,omitempty"`
	QoS     byte      `json:"qos"`
	Retain  bool      `json:"retain,omitempty"`
	Payload string    `json:"payload,omitempty"`
	State   string    `json:"state,omitempty"`
	Error   string    `json:"error,omitempty"`
}

func newPrinter(w io.Writer, asJSON bool) *printer {
	return &printer{
		w:       w,
		enc:     json.NewEncoder(w),
		json:    asJSON,
		topic:   color.New(color.FgCyan, color.Bold),
		meta:    color.New(color.FgHiBlack),
		up:      color.New(color.FgGreen),
		down:    color.New(color.FgRed),
		pending: color.New(color.FgYellow),
	}
}

func (p *printer) message(m *mqtt.Message) {
	if p.json {
		_ = p.enc.Encode(record{Time: time.Now(), Topic: m.Topic, QoS: m.QoS, Retain: m.Retain, Payload: string(m.Payload)})
		return
	}
	flags := fmt.Sprintf("qos=%d", m.QoS)
	if m.Retain {
		flags += " retain"
	}
	fmt.Fprintf(p.w, "%s %s %s\n", p.topic.Sprint(m.Topic), p.meta.Sprint(flags), m.Payload)
}

func (p *printer) status(ev mqtt.StatusEvent) {
	if p.json {
		r := record{Time: time.Now(), State: ev.State.String()}
		if ev.Err != nil {
			r.Error = ev.Err.Error()
		}
		_ = p.enc.Encode(r)
		return
	}
	c := p.pending
	switch ev.State {
	case mqtt.StateConnected:
		c = p.up
	case mqtt.StateDisconnected:
		c = p.down
	}
	if ev.Err != nil {
		fmt.Fprintf(p.w, "%s %v\n", c.Sprintf("[%s]", ev.State), ev.Err)
		return
	}
	fmt.Fprintln(p.w, c.Sprintf("[%s]", ev.State))
}
