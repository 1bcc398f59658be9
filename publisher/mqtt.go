// Package publisher sends call state changes and store telemetry to an MQTT
// broker.
package publisher

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/nextcaller/sip-dialogs/collect"
	"github.com/rs/zerolog"
)

type constError string

func (e constError) Error() string { return string(e) }

const (
	// MQTTQOSOne is a constant representing QOS level 1 when publishing.
	MQTTQOSOne = byte(1)
	// defaultResponseTimeout is how long to wait for the broker to respond to
	// a single MQTT operation.
	defaultResponseTimeout = time.Second * 2

	// keepaliveTimeout is how often to make MQTT Keepalive requests.
	keepaliveTimeout = time.Second * 30

	// disconnectQuiesce is how long to wait for the server during disconnects;
	// measured in milliseconds.  see `go doc paho.mqtt.golang.Client.Disconnect`
	disconnectQuiesce = 250

	// ErrPublishTimeout should only happen if the broker is unresponsive.
	ErrPublishTimeout = constError("mqtt publish timed out")
)

func timeoutFromCtx(ctx context.Context, def time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl)
	}
	return def
}

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher knows how to Publish a collect.Msg to a given topic on its
// connected broker.
type MQTTPublisher struct {
	client client
	opts   MQTTOptions
}

// MQTTOptions controls how the internal mqtt client is created.
type MQTTOptions struct {
	Topic       string
	Telemetry   string
	Broker      string
	ClientID    string
	TLSKeyFile  string
	TLSCertFile string
}

func (m *MQTTPublisher) sendMsg(ctx context.Context, topic string, data []byte) error {
	log := zerolog.Ctx(ctx)
	log.Debug().Str("topic", topic).Bytes("msg", data).Msg("publishing mqtt message")
	token := m.client.Publish(topic, MQTTQOSOne, false, data)

	timeout := timeoutFromCtx(ctx, defaultResponseTimeout)

	// does not handle early ctx cancellation correctly.
	if !token.WaitTimeout(timeout) {
		return ErrPublishTimeout
	}
	if token.Error() != nil {
		return fmt.Errorf("mqtt publish failed: %w", token.Error())
	}
	return nil
}

// Publish encodes a collect.Msg into json and sends it to the broker with
// QoS level 1.
func (m *MQTTPublisher) Publish(ctx context.Context, msg *collect.Msg) error {
	jbytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling Msg to json: %w", err)
	}
	return m.sendMsg(ctx, m.opts.Topic, jbytes)
}

// PublishTelemetry encodes v into json and sends it to the telemetry topic.
// It does nothing when no telemetry topic is configured.
func (m *MQTTPublisher) PublishTelemetry(ctx context.Context, v interface{}) error {
	if m.opts.Telemetry == "" {
		return nil
	}
	jbytes, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling telemetry to json: %w", err)
	}
	return m.sendMsg(ctx, m.opts.Telemetry, jbytes)
}

// Connect initiates a client MQTT connection to the configured broker.
func (m *MQTTPublisher) Connect(ctx context.Context) error {
	log := zerolog.Ctx(ctx)
	timeout := timeoutFromCtx(ctx, defaultResponseTimeout)
	token := m.client.Connect()
	for {
		if ctx.Err() != nil {
			log.Debug().Msg("context timed out, waiting for mqtt connect")
			return ctx.Err()
		}
		if token.WaitTimeout(timeout) {
			log.Debug().Msg("mqtt connect returned")
			break
		}
	}
	if token.Error() != nil {
		return fmt.Errorf("mqtt connect failed: %w", token.Error())
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTTPublisher) Close() {
	m.client.Disconnect(disconnectQuiesce)
}

func tlsCfgFromFiles(key, cert string) (*tls.Config, error) {
	certs, err := tls.LoadX509KeyPair(cert, key)
	if err != nil {
		return nil, fmt.Errorf("loading tls keypair: %w", err)
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{certs}}
	return cfg, nil
}

// NewMQTT creates an MQTTPublisher from the given options.  A client ID is
// generated when none is given.
func NewMQTT(o MQTTOptions) (*MQTTPublisher, error) {
	if o.ClientID == "" {
		o.ClientID = "sip-dialogs:" + uuid.New().String()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetKeepAlive(keepaliveTimeout)

	if o.TLSKeyFile != "" || o.TLSCertFile != "" {
		cfg, err := tlsCfgFromFiles(o.TLSKeyFile, o.TLSCertFile)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(cfg)
	}

	return &MQTTPublisher{
		opts:   o,
		client: mqtt.NewClient(opts),
	}, nil
}
