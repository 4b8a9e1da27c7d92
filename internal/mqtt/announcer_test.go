package mqtt

import (
	"testing"

	"github.com/phantomtech/mirage/internal/config"
	"github.com/phantomtech/mirage/internal/events"
)

func TestTopicHelpers(t *testing.T) {
	a := New(config.MQTTConfig{TopicPrefix: "office"}, events.New(), nil)

	if got := a.availabilityTopic(); got != "office/availability" {
		t.Errorf("availabilityTopic = %q", got)
	}
	if got := a.eventTopic(events.KindImageGenerated); got != "office/events/image_generated" {
		t.Errorf("eventTopic = %q", got)
	}
}

func TestTopicPrefixDefault(t *testing.T) {
	a := New(config.MQTTConfig{}, events.New(), nil)
	if got := a.availabilityTopic(); got != "mirage/availability" {
		t.Errorf("availabilityTopic = %q", got)
	}
}

func TestAnnouncedKinds(t *testing.T) {
	if !announcedKinds[events.KindRequestComplete] {
		t.Error("request_complete should be announced")
	}
	if announcedKinds[events.KindLLMCall] {
		t.Error("llm_call is chatty and should stay in-process")
	}
}

func TestStopWithoutStart(t *testing.T) {
	a := New(config.MQTTConfig{}, events.New(), nil)
	if err := a.Stop(t.Context()); err != nil {
		t.Errorf("Stop before Start should be a no-op, got %v", err)
	}
}
