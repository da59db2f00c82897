package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const mqttPublishTimeout = 5 * time.Second

// MQTTPublisher publishes events with QoS 1. Status events are retained.
type MQTTPublisher struct {
	client mqtt.Client
	logger *zap.Logger
}

// BrokerURL maps mqtt:// and mqtts:// to the schemes paho understands.
func BrokerURL(raw string) (string, *url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("notify: invalid MQTT URL: %w", err)
	}
	switch parsed.Scheme {
	case "ws", "wss", "tcp", "ssl":
		return raw, parsed, nil
	case "mqtt":
		return strings.Replace(raw, "mqtt://", "tcp://", 1), parsed, nil
	case "mqtts":
		return strings.Replace(raw, "mqtts://", "ssl://", 1), parsed, nil
	}
	return "", nil, fmt.Errorf("notify: unsupported MQTT scheme %q", parsed.Scheme)
}

// NewMQTTPublisher connects to the broker at rawURL.
func NewMQTTPublisher(rawURL, chargePointID string, logger *zap.Logger) (*MQTTPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	broker, parsed, err := BrokerURL(rawURL)
	if err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("chargepoint-%s", chargePointID))
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetMaxReconnectInterval(10 * time.Second)
	if parsed.Scheme == "mqtts" || parsed.Scheme == "wss" || parsed.Scheme == "ssl" {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	if parsed.User != nil {
		opts.SetUsername(parsed.User.Username())
		password, _ := parsed.User.Password()
		opts.SetPassword(password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", parsed.Host))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("notify: connect mqtt broker: %w", token.Error())
	}

	return &MQTTPublisher{client: client, logger: logger}, nil
}

// Publish implements Publisher.
func (p *MQTTPublisher) Publish(_ context.Context, event Event) error {
	payload, err := event.Payload()
	if err != nil {
		return err
	}
	topic := MQTTTopic(event)
	retained := event.Kind == KindStatus

	token := p.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("notify: publish to %s timed out after %s", topic, mqttPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("notify: publish to %s: %w", topic, err)
	}
	p.logger.Debug("published mqtt event", zap.String("topic", topic), zap.Int("size", len(payload)))
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
