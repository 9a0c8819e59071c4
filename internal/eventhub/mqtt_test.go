package eventhub

import (
	"strings"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func TestGenerateClientIDIsPrefixedAndUnique(t *testing.T) {
	a := generateClientID()
	b := generateClientID()
	if !strings.HasPrefix(a, "groundstation_") {
		t.Errorf("generateClientID() = %q, want groundstation_ prefix", a)
	}
	if a == b {
		t.Error("expected two successive calls to produce different client IDs")
	}
}

func TestMQTTSinkPublishSkipsWhenDisconnected(t *testing.T) {
	opts := mqtt.NewClientOptions().AddBroker("tcp://127.0.0.1:1")
	client := mqtt.NewClient(opts) // never connected

	sink := &MQTTSink{client: client, cfg: MQTTConfig{TopicPrefix: "groundstation"}}
	// Must return without attempting a publish (and without panicking)
	// against a client that was never connected.
	sink.Publish(Event{Topic: TopicSpectrum, SourceID: "rx0"})
}
