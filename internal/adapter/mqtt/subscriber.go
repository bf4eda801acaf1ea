// Package mqtt subscribes to network-server uplink topics and feeds each
// message to the shared ingest path.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/uplink-ingest-service/internal/config"
	"github.com/couchcryptid/uplink-ingest-service/internal/pipeline"
	paho "github.com/eclipse/paho.mqtt.golang"
)

// SourceMQTT labels uplinks received over MQTT.
const SourceMQTT = "mqtt"

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

// Subscriber holds one MQTT session. Subscriptions are re-established on
// every (re)connect.
type Subscriber struct {
	client  paho.Client
	handler pipeline.Handler
	logger  *slog.Logger
	filters map[string]byte

	ctx context.Context
}

// NewSubscriber configures a client for the broker in cfg. It does not
// connect until Start is called.
func NewSubscriber(cfg *config.Config, h pipeline.Handler, logger *slog.Logger) *Subscriber {
	s := &Subscriber{
		handler: h,
		logger:  logger,
		filters: make(map[string]byte, len(cfg.MQTTTopics)),
		ctx:     context.Background(),
	}
	for _, topic := range cfg.MQTTTopics {
		s.filters[topic] = cfg.MQTTQoS
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
	}
	if cfg.MQTTPassword != "" {
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	s.client = paho.NewClient(opts)
	return s
}

// Start connects to the broker. ctx is passed to every ingest call.
func (s *Subscriber) Start(ctx context.Context) error {
	s.ctx = ctx
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("connect to mqtt broker: timed out after %s", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt broker: %w", err)
	}
	return nil
}

// Stop disconnects, giving in-flight work a short grace period.
func (s *Subscriber) Stop() {
	s.client.Disconnect(disconnectQuiesce)
}

// CheckReadiness reports whether the broker connection is up.
func (s *Subscriber) CheckReadiness(_ context.Context) error {
	if !s.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt not connected")
	}
	return nil
}

func (s *Subscriber) onConnect(c paho.Client) {
	token := c.SubscribeMultiple(s.filters, s.handle)
	if token.Wait() && token.Error() != nil {
		s.logger.Error("mqtt subscribe failed", "error", token.Error())
		return
	}
	s.logger.Info("mqtt subscribed", "topics", len(s.filters))
}

// handle never reports failure to the broker; a message that cannot be
// stored is logged and acknowledged.
func (s *Subscriber) handle(_ paho.Client, msg paho.Message) {
	res, err := s.handler.Ingest(s.ctx, SourceMQTT, msg.Payload())
	if err != nil {
		s.logger.Warn("mqtt ingest failed",
			"topic", msg.Topic(),
			"outcome", res.Outcome,
			"error", err,
		)
	}
}
