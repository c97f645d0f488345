// Package events publishes alert lifecycle events to in-process
// subscribers, websocket clients and an Elasticsearch archive.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sznuper/overwatch/internal/check"
)

// Topics of published events.
const (
	TopicRaised   = "alert/raised"
	TopicResolved = "alert/resolved"
)

// Event is one alert transition of a check, covering every target that
// moved together.
type Event struct {
	ID      string          `json:"id"`
	Topic   string          `json:"topic"`
	Check   string          `json:"check"`
	Status  check.Status    `json:"status"`
	Targets []string        `json:"targets"`
	Results []*check.Result `json:"results,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Time    time.Time       `json:"@timestamp"`
}

// New builds an event for results of check name that moved to status.
func New(topic, name string, status check.Status, results []*check.Result, reason string) Event {
	targets := make([]string, len(results))
	snapshot := make([]*check.Result, len(results))
	for i, r := range results {
		targets[i] = r.Target
		snapshot[i] = r.Clone()
	}
	return Event{
		ID:      uuid.NewString(),
		Topic:   topic,
		Check:   name,
		Status:  status,
		Targets: targets,
		Results: snapshot,
		Reason:  reason,
		Time:    time.Now().UTC(),
	}
}

// Publisher is fire-and-forget: Publish must not block on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}
