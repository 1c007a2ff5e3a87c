package diagnostics

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const kafkaQueueSize = 256

// kafkaMessageWriter abstracts kafka.Writer for tests.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards events to a Kafka topic, keyed by event type. Emit only
// enqueues; a background goroutine delivers. Events that do not fit in the
// queue, and delivery failures, are logged and dropped.
type KafkaSink struct {
	writer  kafkaMessageWriter
	logger  *slog.Logger
	timeout time.Duration

	queue chan kafka.Message
	done  chan struct{}

	mu       sync.RWMutex
	closed   bool
	closeErr error
}

// NewKafkaSink creates a sink writing to topic on the given brokers.
func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) *KafkaSink {
	addrs := make([]string, 0, len(brokers))
	for _, broker := range brokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			addrs = append(addrs, broker)
		}
	}
	return newKafkaSinkWith(&kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}, logger, kafkaQueueSize)
}

func newKafkaSinkWith(writer kafkaMessageWriter, logger *slog.Logger, queueSize int) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	k := &KafkaSink{
		writer:  writer,
		logger:  logger,
		timeout: 5 * time.Second,
		queue:   make(chan kafka.Message, max(queueSize, 1)),
		done:    make(chan struct{}),
	}
	go k.drain()
	return k
}

func (k *KafkaSink) Emit(_ context.Context, event Event) {
	value, err := json.Marshal(event)
	if err != nil {
		k.logger.Warn("encode diagnostics event", "event", event.Type, "error", err)
		return
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return
	}
	select {
	case k.queue <- kafka.Message{Key: []byte(event.Type), Value: value}:
	default:
		k.logger.Warn("diagnostics queue full, dropping event", "event", event.Type)
	}
}

func (k *KafkaSink) drain() {
	defer close(k.done)
	for msg := range k.queue {
		// Delivery is detached from the emitting cycle, which may be long gone.
		ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
		if err := k.writer.WriteMessages(ctx, msg); err != nil {
			k.logger.Warn("forward diagnostics event", "event", string(msg.Key), "error", err)
		}
		cancel()
	}
}

// Close stops accepting events, flushes the queue and closes the writer.
func (k *KafkaSink) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		<-k.done
		return k.closeErr
	}
	k.closed = true
	close(k.queue)
	k.mu.Unlock()

	<-k.done
	k.closeErr = k.writer.Close()
	return k.closeErr
}
