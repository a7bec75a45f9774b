package consumer

import (
	"context"
	"fmt"
	"vitals-station/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Consumer subscribes to the clinic device topics and hands every message to
// the dispatcher. Reconnects and resubscribes are handled by the underlying
// client; the dispatcher's worker loop runs for the life of the process.
type Consumer struct {
	client     mqtt.Client
	dispatcher *Dispatcher
	qos        byte
	logger     *zap.Logger
}

// NewConsumer creates an MQTT consumer. The broker connection is deferred to
// Start.
func NewConsumer(cfg *config.Config, dispatcher *Dispatcher, logger *zap.Logger) *Consumer {
	c := &Consumer{
		dispatcher: dispatcher,
		qos:        cfg.MQTT.QoS,
		logger:     logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	opts.SetClientID(cfg.MQTT.ClientID)
	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
	}
	if cfg.MQTT.Password != "" {
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.MQTT.Broker))
		c.subscribe()
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.Warn("Lost MQTT connection", zap.Error(err))
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Start connects to the broker and launches the dispatch worker. Subscribes
// happen in the connect handler so they survive reconnects.
func (c *Consumer) Start(ctx context.Context) error {
	go c.dispatcher.Run(ctx)

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

func (c *Consumer) subscribe() {
	for _, topic := range []string{DeviceTopicFilter, CombinedTopic} {
		token := c.client.Subscribe(topic, c.qos, func(client mqtt.Client, msg mqtt.Message) {
			c.dispatcher.HandleMessage(msg.Topic(), msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			c.logger.Error("Failed to subscribe",
				zap.String("topic", topic),
				zap.Error(token.Error()),
			)
			continue
		}
		c.logger.Info("Subscribed", zap.String("topic", topic))
	}
}

// Stop disconnects from the broker.
func (c *Consumer) Stop() {
	if c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	c.logger.Info("MQTT consumer stopped")
}
