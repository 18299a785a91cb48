// Package ingest receives sensor samples over MQTT and feeds them into the coaching hub.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"setcoach/internal/coach"
)

const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// Sample is the wire form of one reading. SetID may be empty when the
// topic carries it.
type Sample struct {
	SetID    string   `json:"set_id" msgpack:"set_id"`
	TimeSec  float64  `json:"t" msgpack:"t"`
	Raw      float64  `json:"raw" msgpack:"raw"`
	MDF      *float64 `json:"mdf,omitempty" msgpack:"mdf,omitempty"`
	Artifact float64  `json:"artifact,omitempty" msgpack:"artifact,omitempty"`
	Symmetry *float64 `json:"symmetry,omitempty" msgpack:"symmetry,omitempty"`
}

// Reading converts the sample to the hub's reading type.
func (s Sample) Reading() coach.Reading {
	return coach.Reading{
		TimeSec:  s.TimeSec,
		Raw:      s.Raw,
		MDF:      s.MDF,
		Artifact: s.Artifact,
		Symmetry: s.Symmetry,
	}
}

// Decode parses a payload with the named codec.
func Decode(codec string, payload []byte) (Sample, error) {
	var s Sample
	var err error
	switch codec {
	case CodecJSON, "":
		err = json.Unmarshal(payload, &s)
	case CodecMsgpack:
		err = msgpack.Unmarshal(payload, &s)
	default:
		return s, fmt.Errorf("ingest: unknown codec %q", codec)
	}
	if err != nil {
		return s, fmt.Errorf("ingest: decode %s: %w", codec, err)
	}
	return s, nil
}

// Encode is the inverse of Decode; the replay tool publishes with it.
func Encode(codec string, s Sample) ([]byte, error) {
	switch codec {
	case CodecJSON, "":
		return json.Marshal(s)
	case CodecMsgpack:
		return msgpack.Marshal(s)
	default:
		return nil, fmt.Errorf("ingest: unknown codec %q", codec)
	}
}

// setIDFromTopic returns the topic level matched by the single-level
// wildcard of filter, e.g. "abc" for setcoach/+/samples and setcoach/abc/samples.
func setIDFromTopic(filter, topic string) string {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, p := range fp {
		if p == "+" && i < len(tp) {
			return tp[i]
		}
	}
	return ""
}
