package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/neoc/internal/config"
	"github.com/nugget/neoc/internal/events"
)

const (
	connectTimeout = 30 * time.Second
	inputRateLimit = 20
	inputRateEvery = 10 * time.Second
)

// publishClient is the subset of [autopaho.ConnectionManager] used by
// the mirror loop.
type publishClient interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Publisher manages the MQTT connection, mirrors bus events to the
// broker, and forwards messages from the input topic to the loop.
type Publisher struct {
	cfg      config.MQTTConfig
	clientID string
	input    Input
	logger   *slog.Logger
	now      func() time.Time
	cm       *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and mirror loop. A nil input disables the
// input topic subscription.
func New(cfg config.MQTTConfig, instanceID string, input Input, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:      cfg,
		clientID: clientID(cfg.ClientID, instanceID),
		input:    input,
		logger:   logger,
		now:      time.Now,
	}
}

// Start connects to the MQTT broker and mirrors every event received
// on sub until ctx is cancelled or sub is closed. On every (re-)connect
// it publishes a birth message and subscribes to the input topic.
func (p *Publisher) Start(ctx context.Context, sub <-chan events.Event) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	var onInput MessageHandler
	if p.input != nil {
		limiter := newMessageRateLimiter(inputRateLimit, inputRateEvery, p.logger)
		onInput = inputHandler(p.input, limiter, p.logger)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   AvailabilityTopic(p.cfg.TopicPrefix),
			Payload: []byte(StatusOffline),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker, "client_id", p.clientID)
			p.publishAvailability(ctx, cm, StatusOnline)
			if onInput != nil {
				p.subscribeInput(ctx, cm)
			}
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID,
		},
	}
	if onInput != nil {
		pahoCfg.ClientConfig.OnPublishReceived = []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				if pr.Packet.Topic != InputTopic(p.cfg.TopicPrefix) {
					return false, nil
				}
				onInput(pr.Packet.Topic, pr.Packet.Payload)
				return true, nil
			},
		}
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, connectTimeout)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.mirror(ctx, cm, sub)
	return nil
}

// Stop publishes an "offline" availability message and closes the
// connection. ctx bounds both steps.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, StatusOffline)
	return p.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is established
// or ctx expires.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	if p.cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	return p.cm.AwaitConnection(ctx)
}

// mirror forwards events from sub to the events topic. Publish
// failures are logged and the event is dropped.
func (p *Publisher) mirror(ctx context.Context, client publishClient, sub <-chan events.Event) {
	topic := EventsTopic(p.cfg.TopicPrefix)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			payload, err := encodeEvent(e, p.now())
			if err != nil {
				p.logger.Error("mqtt marshal event", "error", err)
				continue
			}
			if _, err := client.Publish(ctx, &paho.Publish{
				Topic:   topic,
				Payload: payload,
				QoS:     0,
			}); err != nil {
				p.logger.Debug("mqtt event publish failed",
					"type", e.Type, "error", err)
			}
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, client publishClient, status string) {
	if _, err := client.Publish(ctx, &paho.Publish{
		Topic:   AvailabilityTopic(p.cfg.TopicPrefix),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

func (p *Publisher) subscribeInput(ctx context.Context, cm *autopaho.ConnectionManager) {
	topic := InputTopic(p.cfg.TopicPrefix)
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
	}); err != nil {
		p.logger.Warn("mqtt input subscribe failed", "topic", topic, "error", err)
		return
	}
	p.logger.Info("mqtt subscribed to input", "topic", topic)
}
