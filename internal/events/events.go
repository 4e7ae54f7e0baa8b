// Package events publishes review lifecycle events to NATS. Publishing is
// always non-fatal: failures are logged and never reach the caller.
package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Event subjects, relative to the configured prefix.
const (
	ConsultationOpened = "review.consultation_opened"
	ReviewPublished    = "review.published"
	EmailsDispatched   = "emails.dispatched"
)

// Publisher emits lifecycle events.
type Publisher interface {
	Publish(subject string, ev Event)
}

// Event is the JSON body published for every subject.
type Event struct {
	Review     string         `json:"review"`
	Kind       string         `json:"kind,omitempty"`
	Count      int            `json:"count,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NATSPublisher publishes events on <prefix>.<subject>.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	log    zerolog.Logger
}

// Connect dials NATS. An empty url returns a Nop publisher.
func Connect(url, prefix string, log zerolog.Logger) (Publisher, func(), error) {
	if url == "" {
		return Nop{}, func() {}, nil
	}
	nc, err := nats.Connect(url,
		nats.Name("nscreview"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("events: disconnected from NATS")
			}
		}),
	)
	if err != nil {
		return nil, nil, err
	}
	p := &NATSPublisher{nc: nc, prefix: prefix, log: log}
	return p, func() { nc.Drain() }, nil
}

// Publish marshals ev and publishes it. Errors are logged.
func (p *NATSPublisher) Publish(subject string, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("events: failed to marshal event")
		return
	}

	full := subject
	if p.prefix != "" {
		full = p.prefix + "." + subject
	}
	if err := p.nc.Publish(full, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", full).
			Str("review", ev.Review).
			Msg("events: failed to publish (non-fatal)")
		return
	}

	p.log.Debug().Str("subject", full).Str("review", ev.Review).Msg("events: published")
}

// Listen subscribes to every event under prefix and calls fn with the
// subject relative to prefix. An empty url listens to nothing.
func Listen(url, prefix string, log zerolog.Logger, fn func(subject string, ev Event)) (func(), error) {
	if url == "" {
		return func() {}, nil
	}
	nc, err := nats.Connect(url, nats.Name("nscreview-listener"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}

	pattern := ">"
	if prefix != "" {
		pattern = prefix + ".>"
	}
	_, err = nc.Subscribe(pattern, func(m *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			log.Warn().Err(err).Str("subject", m.Subject).Msg("events: undecodable event")
			return
		}
		fn(strings.TrimPrefix(m.Subject, prefix+"."), ev)
	})
	if err != nil {
		nc.Close()
		return nil, err
	}
	return func() { nc.Drain() }, nil
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(string, Event) {}

// Recorder keeps published events in memory.
type Recorder struct {
	Subjects []string
	Events   []Event
}

func (r *Recorder) Publish(subject string, ev Event) {
	r.Subjects = append(r.Subjects, subject)
	r.Events = append(r.Events, ev)
}
