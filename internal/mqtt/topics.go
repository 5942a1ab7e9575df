package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nugget/neoc/internal/events"
)

// Availability payloads.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// EventsTopic is where bus events are mirrored.
func EventsTopic(prefix string) string { return join(prefix, "events") }

// AvailabilityTopic carries the retained online/offline status.
func AvailabilityTopic(prefix string) string { return join(prefix, "availability") }

// InputTopic receives stimuli for the loop.
func InputTopic(prefix string) string { return join(prefix, "input") }

func join(prefix, leaf string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return leaf
	}
	return prefix + "/" + leaf
}

// wireEvent is the JSON shape published to the events topic.
type wireEvent struct {
	events.Event
	Timestamp string `json:"timestamp"`
}

// encodeEvent renders e for the events topic, stamped with now.
func encodeEvent(e events.Event, now time.Time) ([]byte, error) {
	return json.Marshal(wireEvent{Event: e, Timestamp: now.UTC().Format(time.RFC3339Nano)})
}

// clientID builds the MQTT client identifier. A non-empty instance ID
// keeps two NeoC processes sharing a base client_id from kicking each
// other off the broker.
func clientID(base, instanceID string) string {
	if instanceID == "" {
		return base
	}
	short := strings.ReplaceAll(instanceID, "-", "")
	if len(short) > 8 {
		short = short[len(short)-8:]
	}
	return base + "-" + short
}
