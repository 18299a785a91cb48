package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"setcoach/internal/coach"
)

type fakePusher struct {
	known map[string]bool
	got   map[string][]coach.Reading
}

func (f *fakePusher) Push(_ context.Context, setID string, r coach.Reading) error {
	if !f.known[setID] {
		return coach.ErrSetNotFound
	}
	if f.got == nil {
		f.got = make(map[string][]coach.Reading)
	}
	f.got[setID] = append(f.got[setID], r)
	return nil
}

func TestDecode(t *testing.T) {
	mdf := 0.42
	packed, err := msgpack.Marshal(map[string]any{"set_id": "s1", "t": 1.5, "raw": 0.9, "mdf": mdf})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		codec   string
		payload []byte
		want    Sample
		wantErr bool
	}{
		{"json", CodecJSON, []byte(`{"set_id":"s1","t":1.5,"raw":0.9,"artifact":0.2}`), Sample{SetID: "s1", TimeSec: 1.5, Raw: 0.9, Artifact: 0.2}, false},
		{"json default codec", "", []byte(`{"t":2,"raw":1}`), Sample{TimeSec: 2, Raw: 1}, false},
		{"msgpack", CodecMsgpack, packed, Sample{SetID: "s1", TimeSec: 1.5, Raw: 0.9, MDF: &mdf}, false},
		{"broken json", CodecJSON, []byte(`{"t":`), Sample{}, true},
		{"json as msgpack", CodecMsgpack, []byte(`{"t":1}`), Sample{}, true},
		{"unknown codec", "xml", []byte(`<t/>`), Sample{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.codec, tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.SetID != tt.want.SetID || got.TimeSec != tt.want.TimeSec || got.Raw != tt.want.Raw || got.Artifact != tt.want.Artifact {
				t.Errorf("Decode() = %+v, want %+v", got, tt.want)
			}
			if (got.MDF == nil) != (tt.want.MDF == nil) || (got.MDF != nil && *got.MDF != *tt.want.MDF) {
				t.Errorf("MDF = %v, want %v", got.MDF, tt.want.MDF)
			}
		})
	}
}

func TestEncodeDecodeMsgpack(t *testing.T) {
	sym := 0.1
	in := Sample{SetID: "abc", TimeSec: 3.2, Raw: 1.1, Symmetry: &sym}
	data, err := Encode(CodecMsgpack, in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Decode(CodecMsgpack, data)
	if err != nil {
		t.Fatal(err)
	}
	if out.SetID != "abc" || out.TimeSec != 3.2 || out.Symmetry == nil || *out.Symmetry != sym {
		t.Errorf("round trip = %+v", out)
	}
}

func TestSetIDFromTopic(t *testing.T) {
	tests := []struct {
		filter, topic, want string
	}{
		{"setcoach/+/samples", "setcoach/abc/samples", "abc"},
		{"setcoach/samples", "setcoach/samples", ""},
		{"a/b/+", "a/b", ""},
	}
	for _, tt := range tests {
		if got := setIDFromTopic(tt.filter, tt.topic); got != tt.want {
			t.Errorf("setIDFromTopic(%q, %q) = %q, want %q", tt.filter, tt.topic, got, tt.want)
		}
	}
}

func TestProcess(t *testing.T) {
	target := &fakePusher{known: map[string]bool{"s1": true, "s2": true}}
	s := NewSubscriber(Config{Topic: "setcoach/+/samples", Codec: CodecJSON}, target, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	if err := s.process(ctx, "setcoach/s1/samples", []byte(`{"t":0.1,"raw":1}`)); err != nil {
		t.Fatalf("topic set id: %v", err)
	}
	if err := s.process(ctx, "setcoach/other/samples", []byte(`{"set_id":"s2","t":0.1,"raw":1}`)); err != nil {
		t.Fatalf("payload set id: %v", err)
	}
	if err := s.process(ctx, "setcoach/s1/samples", []byte(`nope`)); err == nil {
		t.Error("broken payload accepted")
	}
	err := s.process(ctx, "setcoach/ghost/samples", []byte(`{"t":0.1,"raw":1}`))
	if !errors.Is(err, coach.ErrSetNotFound) {
		t.Errorf("unknown set error = %v", err)
	}

	if len(target.got["s1"]) != 1 || len(target.got["s2"]) != 1 {
		t.Errorf("pushed = %v", target.got)
	}
	st := s.Stats()
	want := Stats{Received: 4, Pushed: 2, DecodeErrors: 1, UnknownSets: 1}
	if st != want {
		t.Errorf("Stats() = %+v, want %+v", st, want)
	}
}

func TestBrokerURL(t *testing.T) {
	if got := brokerURL("localhost:1883"); got != "tcp://localhost:1883" {
		t.Errorf("brokerURL = %q", got)
	}
	if got := brokerURL("ssl://broker:8883"); got != "ssl://broker:8883" {
		t.Errorf("brokerURL = %q", got)
	}
}

func TestRunUnreachableBrokerStopsWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	prev := connectWarnAfter
	connectWarnAfter = 50 * time.Millisecond
	t.Cleanup(func() { connectWarnAfter = prev })

	var logs bytes.Buffer
	s := NewSubscriber(Config{Broker: addr, ClientID: "test", Topic: "setcoach/+/samples", Codec: CodecJSON},
		&fakePusher{}, slog.New(slog.NewTextHandler(&logs, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil after ctx ends", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after ctx ended")
	}

	if s.client.IsConnectionOpen() {
		t.Error("client left connected")
	}
	if s.Stats().Connected {
		t.Error("Stats().Connected = true")
	}
	if !strings.Contains(logs.String(), "still retrying") {
		t.Errorf("no slow-connect warning in %q", logs.String())
	}
}
