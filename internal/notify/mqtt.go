package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"rfids/internal/config"
	"rfids/internal/model"
)

// MQTT publishes alerts as JSON to a broker topic.
type MQTT struct {
	client mqtt.Client
	topic  string
}

func NewMQTT(cfg config.MQTTConfig, logger *slog.Logger) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID())
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		if logger != nil {
			logger.Info("mqtt connected", "broker", cfg.Broker)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if logger != nil {
			logger.Warn("mqtt connection lost", "err", err)
		}
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(30*time.Second) {
		return nil, fmt.Errorf("connecting to mqtt broker %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to mqtt broker %s: %w", cfg.Broker, err)
	}
	return &MQTT{client: client, topic: cfg.Topic}, nil
}

func (m *MQTT) Name() string {
	return "mqtt"
}

func (m *MQTT) Notify(ctx context.Context, alert model.Alert) error {
	data, err := encode(alert)
	if err != nil {
		return err
	}
	token := m.client.Publish(m.topic+"/"+string(alert.Kind), 1, false, data)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}

func clientID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "sensor"
	}
	return fmt.Sprintf("rfids-%s-%d", host, time.Now().Unix())
}
