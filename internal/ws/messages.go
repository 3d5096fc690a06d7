package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Event names on the wire.
const (
	EventJoin     = "join-bus-room"
	EventLeave    = "leave-bus-room"
	EventLocation = "location-update"
	EventJoined   = "joined-bus-room"
	EventLeft     = "left-bus-room"
	EventError    = "error"
)

// Envelope is every frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// LocationEvent is the payload of a pushed location-update. Hint marks
// client-originated events that were neither authorized for persistence nor
// stored.
type LocationEvent struct {
	BusID     uint      `json:"busId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	Timestamp time.Time `json:"timestamp"`
	Hint      bool      `json:"hint,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
	BusID   uint   `json:"busId,omitempty"`
}

// BusRef accepts a bus id sent either as a JSON number or a numeric string.
type BusRef uint

func (b *BusRef) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("bus id is required")
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return b.parse(strings.TrimSpace(s))
	}
	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err == nil {
		return b.parse(num.String())
	}
	return fmt.Errorf("bus id: expected string or number, got %s", string(data))
}

func (b *BusRef) parse(s string) error {
	n, err := strconv.ParseUint(s, 10, 0)
	if err != nil || n == 0 {
		return fmt.Errorf("bus id: invalid value %q", s)
	}
	*b = BusRef(n)
	return nil
}

// hintPayload is what a client may send as location-update.
type hintPayload struct {
	BusID     BusRef   `json:"busId"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Speed     *float64 `json:"speed"`
}

func (p hintPayload) validate() error {
	if p.Latitude == nil || p.Longitude == nil {
		return fmt.Errorf("latitude and longitude are required")
	}
	lat, lon := *p.Latitude, *p.Longitude
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude out of range")
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("longitude out of range")
	}
	if p.Speed != nil && (math.IsNaN(*p.Speed) || math.IsInf(*p.Speed, 0) || *p.Speed < 0) {
		return fmt.Errorf("speed must be a non-negative number")
	}
	return nil
}

func (p hintPayload) event(now time.Time) LocationEvent {
	evt := LocationEvent{
		BusID:     uint(p.BusID),
		Latitude:  *p.Latitude,
		Longitude: *p.Longitude,
		Timestamp: now,
		Hint:      true,
	}
	if p.Speed != nil {
		evt.Speed = *p.Speed
	}
	return evt
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
