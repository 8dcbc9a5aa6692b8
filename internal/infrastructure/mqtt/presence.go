package mqtt

import (
	"encoding/json"
	"time"
)

// ServiceName identifies this service in presence messages.
const ServiceName = "campusauth"

// Presence states.
const (
	StateOnline  = "online"
	StateOffline = "offline"
)

// Offline reasons.
const (
	ReasonShutdown   = "shutdown"
	ReasonConnection = "connection_lost"
)

// Presence is the retained document on Topics{}.Status(). The broker
// publishes the Last Will variant when the connection drops without a
// clean disconnect, so StartedAt lets a subscriber tell a restart apart
// from a network blip.
type Presence struct {
	Service       string    `json:"service"`
	Version       string    `json:"version"`
	ClientID      string    `json:"client_id"`
	State         string    `json:"state"`
	Reason        string    `json:"reason,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	Reconnects    uint64    `json:"reconnects"`
	ActivityTopic string    `json:"activity_topic"`
	At            time.Time `json:"at"`
}

// announcer builds presence documents for one process lifetime.
type announcer struct {
	clientID  string
	version   string
	startedAt time.Time
}

func newAnnouncer(clientID, version string) announcer {
	if version == "" {
		version = "dev"
	}
	return announcer{clientID: clientID, version: version, startedAt: time.Now().UTC()}
}

func (a announcer) build(state, reason string, reconnects uint64) []byte {
	b, _ := json.Marshal(Presence{ //nolint:errcheck // fixed field types always marshal
		Service:       ServiceName,
		Version:       a.version,
		ClientID:      a.clientID,
		State:         state,
		Reason:        reason,
		StartedAt:     a.startedAt,
		Reconnects:    reconnects,
		ActivityTopic: Topics{}.AllActivity(),
		At:            time.Now().UTC(),
	})
	return b
}

// online is published on connect and every reconnect.
func (a announcer) online(reconnects uint64) []byte {
	return a.build(StateOnline, "", reconnects)
}

// offline is published on Close, or registered as the Last Will with
// ReasonConnection.
func (a announcer) offline(reason string, reconnects uint64) []byte {
	return a.build(StateOffline, reason, reconnects)
}
