package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"gnss-survey/internal/bus"
	"gnss-survey/internal/config"
	"gnss-survey/internal/feature"
	"gnss-survey/internal/gps"
	"gnss-survey/internal/indicator"
	"gnss-survey/internal/mqtt"
	"gnss-survey/internal/replay"
	"gnss-survey/internal/survey"
	"gnss-survey/internal/udp"
	"gnss-survey/internal/web"
)

// app owns every long-lived component. Close releases them in reverse
// start order.
type app struct {
	cfg     config.Config
	bus     *bus.Bus
	store   *feature.Store
	session *survey.Session
	conn    *gps.Connection
	link    *link
	capture *replay.Writer
	status  *web.Status
	fixes   *web.FixHub
	logs    *web.LogBuffer
	mqtt    *mqtt.Publisher
	udp     *udp.Forwarder
	led     *indicator.Indicator
}

func newApp(ctx context.Context, cfg config.Config, logs *web.LogBuffer) (*app, error) {
	a := &app{cfg: cfg, bus: bus.New(), status: web.NewStatus(), fixes: web.NewFixHub(), logs: logs}

	store, err := feature.Open(cfg.Store.DataPath())
	if err != nil {
		return nil, err
	}
	a.store = store
	a.session = survey.NewSession(store, survey.Options{
		RequiredQuality: cfg.Survey.RequiredQuality,
		RateWindow:      cfg.Survey.RateWindow,
		Multi:           cfg.Survey.Multi,
		ImageDir:        cfg.Store.ImageDir(),
	})

	host, gcfg := newSource(cfg)
	a.conn = gps.NewConnection(gcfg, host, a.bus)
	a.link = &link{ctx: ctx, conn: a.conn}

	if cfg.Record.Enable {
		w, err := replay.CreateWriter(cfg.Record.Path)
		if err != nil {
			return nil, fmt.Errorf("record: %w", err)
		}
		a.capture = w
		a.conn.Tap = w.Tap
		log.Info().Str("path", cfg.Record.Path).Msg("recording raw receiver stream")
	}

	a.bus.OnFix(a.session.HandleFix)
	a.bus.OnConnectionChange(a.session.HandleConnection)
	a.bus.OnFix(a.fixes.PublishFix)
	a.bus.OnConnectionChange(a.fixes.PublishConnection)

	outputs := map[string]any{"web": cfg.Web.Enable, "mqtt": false, "udp": false, "indicator": false, "record": cfg.Record.Enable}

	if cfg.MQTT.Enable {
		p := mqtt.New(mqtt.Config{Broker: cfg.MQTT.Broker, ClientID: cfg.MQTT.ClientID, TopicPrefix: cfg.MQTT.TopicPrefix})
		if err := p.Start(ctx); err != nil {
			log.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("mqtt disabled")
		} else {
			a.mqtt = p
			a.bus.OnFix(p.PublishFix)
			a.bus.OnConnectionChange(p.PublishConnection)
			a.session.OnCommit(p.PublishFeature)
			outputs["mqtt"] = cfg.MQTT.Broker
		}
	}

	if cfg.UDP.Enable {
		f, err := udp.NewForwarder(cfg.UDP.Dest)
		if err != nil {
			log.Warn().Err(err).Str("dest", cfg.UDP.Dest).Msg("udp forwarding disabled")
		} else {
			a.udp = f
			a.bus.OnFix(f.PublishFix)
			outputs["udp"] = cfg.UDP.Dest
		}
	}

	if cfg.Indicator.Enable {
		led := indicator.New(indicator.Config{Pin: cfg.Indicator.Pin})
		if err := led.Start(ctx); err != nil {
			log.Warn().Err(err).Int("pin", cfg.Indicator.Pin).Msg("status led disabled")
		} else {
			a.led = led
			a.bus.OnConnectionChange(led.HandleConnection)
			a.session.OnRTKChange(led.HandleRTK)
			outputs["indicator"] = cfg.Indicator.Pin
		}
	}

	a.status.SetStatic(cfg.Source, store.Path(), outputs)
	return a, nil
}

// newSource maps the configured source to a host and connection settings.
// Only the serial source carries a USB identity to match against.
func newSource(cfg config.Config) (gps.Host, gps.Config) {
	gcfg := gps.Config{
		Mode: gps.PortMode{
			BaudRate: cfg.Serial.Baud,
			DataBits: 8,
			Parity:   gps.NoParity,
			StopBits: gps.OneStopBit,
		},
		PermissionTimeout: cfg.Serial.PermissionTimeout,
		PermissionPoll:    cfg.Serial.PermissionPoll,
		ReadBufferSize:    cfg.Serial.ReadBuffer,
	}
	switch cfg.Source {
	case "gpsd":
		return gps.NewGPSDHost(cfg.GPSD.Addr), gcfg
	case "replay":
		return replay.NewHost(cfg.Replay.Path, cfg.Replay.Speed, cfg.Replay.Loop), gcfg
	default:
		gcfg.VendorID = cfg.Serial.VendorID
		gcfg.ProductID = cfg.Serial.ProductID
		return gps.NewSystemHost(), gcfg
	}
}

func (a *app) webDeps() web.Deps {
	return web.Deps{
		Status: a.status,
		Link:   a.link,
		Survey: a.session,
		Store:  a.store,
		Logs:   a.logs,
		Fixes:  a.fixes,
	}
}

func (a *app) Close() {
	a.conn.Stop()
	if a.led != nil {
		a.led.Close()
	}
	if a.udp != nil {
		_ = a.udp.Close()
	}
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	if a.capture != nil {
		if err := a.capture.Close(); err != nil {
			log.Warn().Err(err).Msg("capture close failed")
		}
	}
}

// link ties UI connect requests to the application context: the read loop
// outlives the HTTP request that started it.
type link struct {
	ctx  context.Context
	conn *gps.Connection
}

func (l *link) Connect(ctx context.Context) error {
	if err := l.conn.Connect(ctx); err != nil {
		return err
	}
	return l.conn.Start(l.ctx)
}

func (l *link) Disconnect() { l.conn.Stop() }

func (l *link) Snapshot() gps.Snapshot { return l.conn.Snapshot() }
