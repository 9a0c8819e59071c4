package eventhub

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig carries the broker connection and QoS knobs.
type MQTTConfig struct {
	Broker       string
	Username     string
	Password     string
	TopicPrefix  string
	QoS          byte
	Retain       bool
	TLS          *tls.Config
}

// MQTTSink publishes every event it receives to a broker, one topic
// per event Topic under TopicPrefix, using an auto-reconnect client.
// Publish is fire-and-forget: a failure is logged but not retried,
// since the next event supersedes a dropped one in practice.
type MQTTSink struct {
	client mqtt.Client
	cfg    MQTTConfig
}

// NewMQTTSink connects to the configured broker and returns a ready
// sink.
func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(generateClientID())
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
	if cfg.TLS != nil {
		opts.SetTLSConfig(cfg.TLS)
	}
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Println("eventhub: connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("eventhub: MQTT connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("eventhub: connect to MQTT broker: %w", token.Error())
	}
	return &MQTTSink{client: client, cfg: cfg}, nil
}

func generateClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "groundstation_" + hex.EncodeToString(b)
}

// Publish sends ev to {prefix}/{topic}/{sourceID}, best-effort.
func (s *MQTTSink) Publish(ev Event) {
	if !s.client.IsConnected() {
		return
	}
	topic := fmt.Sprintf("%s/%s/%s", s.cfg.TopicPrefix, ev.Topic, ev.SourceID)

	payload := map[string]any{
		"timestamp": ev.At.Unix(),
		"sessionId": ev.SessionID,
		"data":      ev.Payload,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("eventhub: marshal MQTT payload for %s: %v", topic, err)
		return
	}
	token := s.client.Publish(topic, s.cfg.QoS, s.cfg.Retain, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("eventhub: publish to %s: %v", topic, token.Error())
		}
	}()
}

// Disconnect gracefully closes the broker connection.
func (s *MQTTSink) Disconnect() {
	s.client.Disconnect(250)
}
