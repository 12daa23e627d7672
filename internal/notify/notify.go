package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"rfids/internal/config"
	"rfids/internal/model"
)

const DefaultTimeout = 15 * time.Second

// Notifier delivers an admitted alert over one transport.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert model.Alert) error
}

// Multi fans an alert out to every notifier. Failures are logged and joined;
// one failing transport never prevents the others from running.
type Multi struct {
	notifiers []Notifier
	timeout   time.Duration
	logger    *slog.Logger
}

func NewMulti(logger *slog.Logger, notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers, timeout: DefaultTimeout, logger: logger}
}

func (m *Multi) Add(n Notifier) {
	if n != nil {
		m.notifiers = append(m.notifiers, n)
	}
}

func (m *Multi) Len() int {
	return len(m.notifiers)
}

func (m *Multi) Name() string {
	return "multi"
}

func (m *Multi) Notify(ctx context.Context, alert model.Alert) error {
	var errs []error
	for _, n := range m.notifiers {
		nctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := n.Notify(nctx, alert)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			if m.logger != nil {
				m.logger.Warn("alert delivery failed", "transport", n.Name(), "alert_id", alert.ID, "err", err)
			}
			continue
		}
		if m.logger != nil {
			m.logger.Info("alert delivered", "transport", n.Name(), "alert_id", alert.ID)
		}
	}
	return errors.Join(errs...)
}

// Close releases transports that hold connections.
func (m *Multi) Close() error {
	var errs []error
	for _, n := range m.notifiers {
		if c, ok := n.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

func encode(alert model.Alert) ([]byte, error) {
	return json.Marshal(alert)
}

// FromConfig builds the transports enabled in cfg. A broker that cannot be
// reached at startup is logged and left out.
func FromConfig(cfg *config.Config, logger *slog.Logger) *Multi {
	m := NewMulti(logger)
	if cfg.EmailAlerts {
		m.Add(NewEmail(cfg.Email))
	}
	if cfg.SMSAlerts {
		m.Add(NewSMS(cfg.SMS, &http.Client{Timeout: DefaultTimeout}))
	}
	if cfg.MQTT.Enabled {
		client, err := NewMQTT(cfg.MQTT, logger)
		if err != nil {
			if logger != nil {
				logger.Warn("mqtt notifier disabled", "err", err)
			}
		} else {
			m.Add(client)
		}
	}
	if cfg.Kafka.Enabled {
		m.Add(NewKafka(cfg.Kafka))
	}
	return m
}
