package sms

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"fastsync/internal/logging"
	"fastsync/internal/source"
)

// DefaultTopic is the MQTT topic the phone companion publishes to.
const DefaultTopic = "fastsync/sms"

// ParamDefaults returns the default parameter values for an sms source.
func ParamDefaults() map[string]string {
	return map[string]string{
		"topic": DefaultTopic,
	}
}

// NewFactory returns a source.Factory for MQTT sms sources.
func NewFactory() source.Factory {
	return func(id uuid.UUID, params map[string]string, logger *slog.Logger) (source.Source, error) {
		cfg, err := parseConfig(id.String(), params, logger)
		if err != nil {
			return nil, err
		}
		return newSource(cfg), nil
	}
}

// config holds parsed configuration for an sms source.
type config struct {
	ID       string
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	Logger   *slog.Logger
}

func parseConfig(id string, params map[string]string, logger *slog.Logger) (config, error) {
	broker := params["broker"]
	if broker == "" {
		return config{}, fmt.Errorf("sms source %q: broker param required (e.g. tcp://host:1883)", id)
	}

	topic := params["topic"]
	if topic == "" {
		topic = DefaultTopic
	}

	clientID := params["client_id"]
	if clientID == "" {
		clientID = "fastsync-" + id
	}

	return config{
		ID:       id,
		Broker:   broker,
		Topic:    topic,
		ClientID: clientID,
		Username: params["username"],
		Password: params["password"],
		Logger:   logging.Default(logger).With("component", "source", "type", "sms", "instance", id),
	}, nil
}
