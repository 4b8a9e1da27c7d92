// Package mqtt republishes assistant activity events to an MQTT broker
// so office dashboards can watch the assistant work. It uses Eclipse
// Paho v2's [autopaho] package for connection management with automatic
// reconnection. A will message flips the availability topic to
// "offline" on unexpected disconnects.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/phantomtech/mirage/internal/config"
	"github.com/phantomtech/mirage/internal/events"
)

// announcedKinds lists the event kinds worth broadcasting outside the
// process. Chatty per-iteration events stay on the in-process bus.
var announcedKinds = map[string]bool{
	events.KindRequestStart:    true,
	events.KindRequestComplete: true,
	events.KindImageGenerated:  true,
	events.KindToolDone:        true,
}

// Announcer bridges the in-process event bus to an MQTT broker.
type Announcer struct {
	cfg    config.MQTTConfig
	bus    *events.Bus
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New creates an Announcer but does not connect. Call [Announcer.Start]
// to begin the connection and relay loop.
func New(cfg config.MQTTConfig, bus *events.Bus, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{
		cfg:    cfg,
		bus:    bus,
		logger: logger,
	}
}

// Start connects to the MQTT broker and relays bus events until ctx is
// cancelled. On every (re-)connect it publishes a retained "online"
// availability message.
func (a *Announcer) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(a.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	clientID := a.cfg.ClientID
	if clientID == "" {
		clientID = "mirage"
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{brokerURL},
		KeepAlive:  30,
		WillMessage: &paho.WillMessage{
			Topic:   a.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			a.logger.Info("mqtt connected to broker", "broker", a.cfg.BrokerURL)
			a.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			a.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	a.cm = cm

	// Wait for the initial connection before relaying. On timeout,
	// autopaho keeps retrying in the background.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		a.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	a.relayLoop(ctx)
	return nil
}

// Stop publishes an "offline" availability message and disconnects.
func (a *Announcer) Stop(ctx context.Context) error {
	if a.cm == nil {
		return nil
	}
	a.publishAvailability(ctx, a.cm, "offline")
	return a.cm.Disconnect(ctx)
}

// relayLoop consumes bus events until ctx is cancelled.
func (a *Announcer) relayLoop(ctx context.Context) {
	ch := a.bus.Subscribe(64)
	defer a.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !announcedKinds[ev.Kind] {
				continue
			}
			a.publishEvent(ctx, ev)
		}
	}
}

func (a *Announcer) publishEvent(ctx context.Context, ev events.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		a.logger.Error("mqtt marshal event", "kind", ev.Kind, "error", err)
		return
	}

	topic := a.eventTopic(ev.Kind)
	if _, err := a.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     0,
	}); err != nil {
		a.logger.Debug("mqtt event publish failed", "topic", topic, "error", err)
	}
}

func (a *Announcer) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   a.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		a.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	}
}

func (a *Announcer) prefix() string {
	if a.cfg.TopicPrefix != "" {
		return a.cfg.TopicPrefix
	}
	return "mirage"
}

func (a *Announcer) availabilityTopic() string {
	return a.prefix() + "/availability"
}

func (a *Announcer) eventTopic(kind string) string {
	return a.prefix() + "/events/" + kind
}
