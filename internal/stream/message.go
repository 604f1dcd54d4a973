// Package stream fans live aggregation updates out to subscribers.
package stream

import (
	"encoding/json"
	"fmt"

	"dex-candles/internal/domain"
)

// MessageType tags a Message variant.
type MessageType string

// Message variants.
const (
	TypeConnected MessageType = "connected"
	TypeCandle    MessageType = "candle"
	TypeVolume    MessageType = "volume"
	TypeStats     MessageType = "stats"
)

// Message is one live-feed message. Exactly one payload field is set,
// selected by Type; Connected carries Pair and Interval.
type Message struct {
	Type     MessageType          `json:"type"`
	Pair     string               `json:"pair,omitempty"`
	Interval string               `json:"interval,omitempty"`
	Candle   *domain.Candle       `json:"candle,omitempty"`
	Volume   *domain.VolumeBucket `json:"volume,omitempty"`
	Stats    *domain.PairStats    `json:"stats,omitempty"`
}

// Connected is the first message of every subscription.
func Connected(key domain.SeriesKey) Message {
	return Message{Type: TypeConnected, Pair: key.PairID, Interval: key.Interval}
}

// CandleUpdate wraps an updated candle.
func CandleUpdate(c domain.Candle) Message {
	return Message{Type: TypeCandle, Candle: &c}
}

// VolumeUpdate wraps an updated volume bucket.
func VolumeUpdate(v domain.VolumeBucket) Message {
	return Message{Type: TypeVolume, Volume: &v}
}

// StatsUpdate wraps refreshed pair stats.
func StatsUpdate(s domain.PairStats) Message {
	return Message{Type: TypeStats, Stats: &s}
}

// Validate checks that the payload matches the tag.
func (m Message) Validate() error {
	switch m.Type {
	case TypeConnected:
		if m.Pair == "" || m.Interval == "" {
			return fmt.Errorf("connected message missing pair or interval")
		}
	case TypeCandle:
		if m.Candle == nil {
			return fmt.Errorf("candle message missing candle")
		}
	case TypeVolume:
		if m.Volume == nil {
			return fmt.Errorf("volume message missing volume")
		}
	case TypeStats:
		if m.Stats == nil {
			return fmt.Errorf("stats message missing stats")
		}
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

// Decode parses and validates one wire message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("unmarshal message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Update is the set of messages emitted for one ingested event, in order:
// candle, volume, stats. Nil entries are skipped.
type Update struct {
	Candle *domain.Candle
	Volume *domain.VolumeBucket
	Stats  *domain.PairStats
}

// Messages flattens the update in emission order.
func (u Update) Messages() []Message {
	out := make([]Message, 0, 3)
	if u.Candle != nil {
		out = append(out, CandleUpdate(*u.Candle))
	}
	if u.Volume != nil {
		out = append(out, VolumeUpdate(*u.Volume))
	}
	if u.Stats != nil {
		out = append(out, StatsUpdate(*u.Stats))
	}
	return out
}
