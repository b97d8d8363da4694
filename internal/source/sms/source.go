// Package sms subscribes to the phone companion's MQTT topic and signals
// on every incoming text message.
package sms

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"fastsync/internal/pipeline"
)

type smsSource struct {
	id     string
	broker string
	topic  string
	opts   *mqtt.ClientOptions
	logger *slog.Logger
}

// newSource creates an sms source from parsed config.
func newSource(cfg config) *smsSource {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return &smsSource{
		id:     cfg.ID,
		broker: cfg.Broker,
		topic:  cfg.Topic,
		opts:   opts,
		logger: cfg.Logger,
	}
}

// Run implements source.Source. It connects to the broker, subscribes,
// and forwards each valid message as a change signal until ctx is
// cancelled. Malformed payloads are logged and skipped.
func (s *smsSource) Run(ctx context.Context, out chan<- pipeline.ChangeSignal) error {
	client := mqtt.NewClient(s.opts)

	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect %s: %w", s.broker, err)
	}
	defer client.Disconnect(250)

	handler := func(_ mqtt.Client, raw mqtt.Message) {
		msg, err := ParseMessage(raw.Payload())
		if err != nil {
			s.logger.Warn("dropping malformed sms", "error", err)
			return
		}
		payload, err := msg.Encode()
		if err != nil {
			s.logger.Warn("dropping unencodable sms", "error", err)
			return
		}
		s.logger.Debug("sms received", "sender", msg.Sender)
		select {
		case out <- pipeline.ChangeSignal{
			Kind: pipeline.KindSMS,
			Ref:  msg.ItemID(),
			Data: payload,
			At:   time.Now(),
		}:
		case <-ctx.Done():
		}
	}

	sub := client.Subscribe(s.topic, 1, handler)
	sub.Wait()
	if err := sub.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.topic, err)
	}
	s.logger.Info("subscribed to sms topic", "broker", s.broker, "topic", s.topic)

	<-ctx.Done()
	return nil
}
