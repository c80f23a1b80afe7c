package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/subzero/internal/bridge"
	"github.com/nugget/subzero/internal/buildinfo"
	"github.com/nugget/subzero/internal/config"
	"github.com/nugget/subzero/internal/events"
)

// Bridge is the part of the connection bridge the publisher needs.
type Bridge interface {
	Status() bridge.Status
	Send(prompt string, cb bridge.Callback) bridge.Outcome
}

// client is the publishing half of an autopaho connection.
type client interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Reply is published to the reply topic for each inbound prompt.
type Reply struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
	Outcome  string `json:"outcome"`
}

// Publisher manages the MQTT connection and mirrors bridge state to
// the broker.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	bridge     Bridge
	bus        *events.Bus
	logger     *slog.Logger
	limiter    *promptLimiter

	cm client
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to connect and begin publishing.
func New(cfg config.MQTTConfig, instanceID string, b Bridge, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		bridge:     b,
		bus:        bus,
		logger:     logger,
		limiter:    newPromptLimiter(cfg.PromptRateLimit, time.Minute, logger),
	}
}

// Start connects to the broker and publishes until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
			p.publishState(ctx, cm)
			if p.cfg.AcceptPrompts {
				p.subscribe(ctx, cm)
			}
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					p.handlePrompt(ctx, pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	go p.limiter.run(ctx)
	p.run(ctx)

	// Mark offline while the connection is still up.
	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer stopCancel()
	p.publishAvailability(stopCtx, cm, "offline")
	return cm.Disconnect(stopCtx)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return p.cfg.TopicPrefix + "/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) statusTopic() string { return p.baseTopic() + "/status" }
func (p *Publisher) sendTopic() string   { return p.baseTopic() + "/send" }
func (p *Publisher) replyTopic() string  { return p.baseTopic() + "/reply" }

func (p *Publisher) discoveryTopic(entity string) string {
	return p.cfg.DiscoveryPrefix + "/sensor/" + p.cfg.DeviceName + "/" + entity + "/config"
}

// --- Discovery ---

type sensorDef struct {
	entity string
	config SensorConfig
}

func (p *Publisher) sensor(entity, name, icon string) sensorDef {
	return sensorDef{
		entity: entity,
		config: SensorConfig{
			Name:                p.device.Name + " " + name,
			UniqueID:            p.instanceID + "_" + entity,
			StateTopic:          p.stateTopic(entity),
			AvailabilityTopic:   p.availabilityTopic(),
			JSONAttributesTopic: p.statusTopic(),
			Device:              p.device,
			Icon:                icon,
		},
	}
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	state := p.sensor("bridge_state", "Bridge State", "mdi:lan-connect")

	queue := p.sensor("queue_length", "Queue Length", "mdi:tray-full")
	queue.config.StateClass = "measurement"
	queue.config.UnitOfMeasurement = "messages"

	sent := p.sensor("total_sent", "Messages Delivered", "mdi:send-check")
	sent.config.StateClass = "total_increasing"

	failed := p.sensor("total_failed", "Messages Failed", "mdi:send-clock")
	failed.config.StateClass = "total_increasing"

	model := p.sensor("model", "Model", "mdi:brain")
	model.config.EntityCategory = "diagnostic"

	version := p.sensor("version", "Version", "mdi:tag")
	version.config.EntityCategory = "diagnostic"

	return []sensorDef{state, queue, sent, failed, model, version}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm client) {
	if p.cfg.DiscoveryPrefix == "" {
		return
	}
	for _, s := range p.sensorDefinitions() {
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload", "entity", s.entity, "error", err)
			continue
		}
		topic := p.discoveryTopic(s.entity)
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed", "entity", s.entity, "topic", topic, "error", err)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm client, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- State ---

// run republishes state on bridge events and on the publish interval.
func (p *Publisher) run(ctx context.Context) {
	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var ch <-chan events.Event
	if p.bus != nil {
		sub := p.bus.Subscribe(64)
		defer p.bus.Unsubscribe(sub)
		ch = sub
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishState(ctx, p.cm)
		case e, ok := <-ch:
			if !ok {
				ch = nil
				continue
			}
			if e.Source == events.SourceBridge {
				p.publishState(ctx, p.cm)
			}
		}
	}
}

// publishState writes each sensor value and the full status document,
// all retained.
func (p *Publisher) publishState(ctx context.Context, cm client) {
	if cm == nil || p.bridge == nil {
		return
	}
	st := p.bridge.Status()

	states := map[string]string{
		"bridge_state": st.State.String(),
		"queue_length": strconv.Itoa(st.QueueLength),
		"total_sent":   strconv.FormatInt(st.TotalSent, 10),
		"total_failed": strconv.FormatInt(st.TotalFailed, 10),
		"model":        st.Model,
		"version":      buildinfo.Version,
	}
	for entity, value := range states {
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed", "entity", entity, "error", err)
		}
	}

	doc, err := json.Marshal(st)
	if err != nil {
		p.logger.Error("mqtt marshal status", "error", err)
		return
	}
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.statusTopic(),
		Payload: doc,
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Debug("mqtt status publish failed", "error", err)
	}
}

// --- Inbound prompts ---

func (p *Publisher) subscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: p.sendTopic(), QoS: 1}},
	}); err != nil {
		p.logger.Warn("mqtt subscribe failed", "topic", p.sendTopic(), "error", err)
		return
	}
	p.logger.Info("mqtt accepting prompts", "topic", p.sendTopic())
}

// handlePrompt forwards one inbound payload through the bridge.
func (p *Publisher) handlePrompt(ctx context.Context, topic string, payload []byte) {
	if topic != p.sendTopic() || p.bridge == nil {
		return
	}
	prompt := strings.TrimSpace(string(payload))
	if prompt == "" {
		return
	}
	if !p.limiter.allow() {
		return
	}

	var outcome bridge.Outcome
	done := make(chan struct{})
	outcome = p.bridge.Send(prompt, func(resp string, err error) {
		<-done
		r := Reply{Prompt: prompt, Response: resp, Outcome: outcome.String()}
		if err != nil {
			r.Error = err.Error()
		}
		p.publishReply(ctx, r)
	})
	close(done)
	p.logger.Info("mqtt prompt received", "outcome", outcome.String(), "len", len(prompt))

	if outcome == bridge.OutcomeRejected {
		p.publishReply(ctx, Reply{Prompt: prompt, Outcome: outcome.String(), Error: "bridge closed"})
	}
}

func (p *Publisher) publishReply(ctx context.Context, r Reply) {
	if p.cm == nil {
		return
	}
	payload, err := json.Marshal(r)
	if err != nil {
		p.logger.Error("mqtt marshal reply", "error", err)
		return
	}
	if _, err := p.cm.Publish(context.WithoutCancel(ctx), &paho.Publish{
		Topic:   p.replyTopic(),
		Payload: payload,
		QoS:     1,
	}); err != nil {
		p.logger.Warn("mqtt reply publish failed", "error", err)
	}
}
