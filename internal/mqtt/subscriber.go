package mqtt

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"drainwatch/internal/config"
	"drainwatch/internal/logger"
)

// Handler consumes one raw telemetry payload.
type Handler func(payload []byte)

// Subscriber receives telemetry from field sensors over MQTT. The broker is
// the device-facing edge; everything downstream of the handler is the
// in-process pipeline.
type Subscriber struct {
	cfg     *config.Config
	client  paho.Client
	handler Handler
}

// NewSubscriber builds the MQTT client with auto-reconnect. The handler runs
// on paho's router goroutine, so it must hand off quickly.
func NewSubscriber(cfg *config.Config, handler Handler) *Subscriber {
	s := &Subscriber{cfg: cfg, handler: handler}

	opts := paho.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log := logger.WithComponent("mqtt")
			log.Warn().Err(err).Msg("broker connection lost")
		})

	s.client = paho.NewClient(opts)
	return s
}

// Start connects to the broker. Subscription happens in the connect handler
// so it is re-established after every reconnect.
func (s *Subscriber) Start(ctx context.Context) error {
	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (s *Subscriber) onConnect(client paho.Client) {
	log := logger.WithComponent("mqtt")
	token := client.Subscribe(s.cfg.MQTTTopic, s.cfg.MQTTQoS, func(_ paho.Client, msg paho.Message) {
		s.handler(msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", s.cfg.MQTTTopic).Msg("subscribe failed")
		return
	}
	log.Info().
		Str("broker", s.cfg.MQTTBroker).
		Str("topic", s.cfg.MQTTTopic).
		Uint8("qos", s.cfg.MQTTQoS).
		Msg("subscribed to telemetry topic")
}

// Stop unsubscribes and disconnects, allowing in-flight work to finish.
func (s *Subscriber) Stop() {
	if s.client.IsConnected() {
		s.client.Unsubscribe(s.cfg.MQTTTopic).Wait()
	}
	s.client.Disconnect(250)
}
