package output

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestKafkaMirror(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var doc map[string]interface{}
		if err := json.Unmarshal(val, &doc); err != nil {
			return err
		}
		if doc["action"] != "tool:bash:start" {
			return errors.New("unexpected action in message")
		}
		return nil
	})

	mirror := NewKafkaMirrorWithProducer(producer, "openclaw-events")
	if err := mirror.Mirror(context.Background(), testEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mirror.Close(); err != nil {
		t.Fatalf("failed to close mirror: %v", err)
	}
}

func TestKafkaMirrorFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	mirror := NewKafkaMirrorWithProducer(producer, "openclaw-events")
	defer mirror.Close()

	if err := mirror.Mirror(context.Background(), testEvent()); err == nil {
		t.Fatal("expected publish error")
	}
}

func TestKafkaMirrorClosed(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	mirror := NewKafkaMirrorWithProducer(producer, "openclaw-events")

	if err := mirror.Close(); err != nil {
		t.Fatalf("failed to close mirror: %v", err)
	}
	if err := mirror.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if err := mirror.Mirror(context.Background(), testEvent()); err == nil {
		t.Error("expected error after close")
	}
}

func TestNewKafkaMirrorValidation(t *testing.T) {
	if _, err := NewKafkaMirror(KafkaConfig{Topic: "t"}); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := NewKafkaMirror(KafkaConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Error("expected error without topic")
	}
}
