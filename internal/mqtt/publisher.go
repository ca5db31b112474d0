// Package mqtt mirrors fixes, link status and committed features to an
// MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"gnss-survey/internal/feature"
	"gnss-survey/internal/nmea"
)

// Client is the part of paho.Client the publisher uses.
type Client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// Publisher queues messages from bus callbacks and sends them on its own
// goroutine, so a slow broker never stalls the serial reader.
type Publisher struct {
	client Client
	prefix string
	queue  chan message

	cancel context.CancelFunc
	wg     sync.WaitGroup

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

func New(cfg Config) *Publisher {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
	return NewWithClient(paho.NewClient(opts), cfg.TopicPrefix)
}

func NewWithClient(client Client, prefix string) *Publisher {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "gnss"
	}
	return &Publisher{client: client, prefix: prefix, queue: make(chan message, 64)}
}

func (p *Publisher) Start(ctx context.Context) error {
	if p == nil {
		return fmt.Errorf("mqtt publisher is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}
	if p.cancel != nil {
		return nil
	}
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	childCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-childCtx.Done():
				return
			case m := <-p.queue:
				p.send(m)
			}
		}
	}()
	log.Info().Str("prefix", p.prefix).Msg("mqtt publisher started")
	return nil
}

func (p *Publisher) send(m message) {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.failed.Add(1)
		log.Warn().Str("topic", m.topic).Msg("mqtt publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		p.failed.Add(1)
		log.Warn().Err(err).Str("topic", m.topic).Msg("mqtt publish failed")
		return
	}
	p.published.Add(1)
}

func (p *Publisher) Close() {
	if p == nil || p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.cancel = nil
	p.client.Disconnect(250)
}

type fixPayload struct {
	Lat     float64       `json:"lat"`
	Lon     float64       `json:"lon"`
	Quality string        `json:"quality"`
	At      string        `json:"at,omitempty"`
	Details *nmea.Details `json:"details,omitempty"`
}

// PublishFix is a bus fix subscriber; only valid fixes are sent, retained
// so late subscribers see the current position.
func (p *Publisher) PublishFix(fix nmea.Fix) {
	if !fix.Valid {
		return
	}
	pl := fixPayload{Lat: fix.Lat, Lon: fix.Lon, Quality: fix.Quality}
	if !fix.At.IsZero() {
		pl.At = fix.At.UTC().Format(time.RFC3339Nano)
	}
	if d, err := nmea.DecodeDetails(fix); err == nil {
		pl.Details = &d
	}
	p.enqueue("fix", 0, true, pl)
}

// PublishConnection is a bus status subscriber.
func (p *Publisher) PublishConnection(connected bool) {
	p.enqueue("status", 1, true, map[string]bool{"connected": connected})
}

// PublishFeature is a session commit hook.
func (p *Publisher) PublishFeature(f feature.Feature) {
	p.enqueue("feature", 1, false, f)
}

func (p *Publisher) enqueue(suffix string, qos byte, retained bool, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Str("topic", suffix).Msg("mqtt payload marshal failed")
		return
	}
	m := message{topic: p.prefix + "/" + suffix, qos: qos, retained: retained, payload: b}
	select {
	case p.queue <- m:
	default:
		p.dropped.Add(1)
	}
}

type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

func (p *Publisher) Stats() Stats {
	return Stats{Published: p.published.Load(), Dropped: p.dropped.Load(), Failed: p.failed.Load()}
}
