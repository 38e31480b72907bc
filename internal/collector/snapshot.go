package collector

import (
	"bytes"
	"encoding/json"

	"github.com/szibis/request-toolbar/internal/measure"
)

// NoCollectorsMessage explains a snapshot produced with every collector disabled.
const NoCollectorsMessage = "No collectors enabled in the toolbar configuration"

// CollectorTiming is the time one collector took.
type CollectorTiming struct {
	Duration measure.Measurement `json:"duration"`
}

// WallTime groups the timings of a collection pass.
type WallTime struct {
	Collectors map[string]CollectorTiming `json:"collectors,omitempty"`
	Total      *measure.Measurement       `json:"total,omitempty"`
}

// Metadata describes a collection pass.
type Metadata struct {
	ID            string   `json:"id"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	Timestamp     float64  `json:"timestamp,omitempty"`
	Collectors    string   `json:"collectors,omitempty"`
	WallTime      WallTime `json:"wall_time"`
	Debug         bool     `json:"debug,omitempty"`
}

// Snapshot is the merged output of one collection pass. It encodes as a JSON
// object with one field per collector, in collection order, followed by "metadata".
type Snapshot struct {
	keys     []string
	payloads map[string]any
	Metadata Metadata
}

func newSnapshot() *Snapshot {
	return &Snapshot{payloads: make(map[string]any)}
}

func (s *Snapshot) set(key string, payload any) {
	if _, ok := s.payloads[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.payloads[key] = payload
}

// Keys returns the collector keys in collection order.
func (s *Snapshot) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Payload returns the payload stored under key.
func (s *Snapshot) Payload(key string) (any, bool) {
	p, ok := s.payloads[key]
	return p, ok
}

// MarshalJSON implements json.Marshaler.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for _, k := range s.keys {
		if err := writeField(&buf, k, s.payloads[k]); err != nil {
			return nil, err
		}
		buf.WriteByte(',')
	}
	if err := writeField(&buf, "metadata", s.Metadata); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeField(buf *bytes.Buffer, key string, v any) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(val)
	return nil
}
