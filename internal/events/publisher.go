// Package events publishes settlement audit events to Kafka. The stream is
// advisory: the durable record of a settlement is the database row, the
// event only feeds downstream reporting.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// SettlementEvent is the JSON payload emitted after a ledger transaction
// is durably reconciled.
type SettlementEvent struct {
	RunID           string    `json:"run_id"`
	LedgerTxID      string    `json:"ledger_tx_id"`
	Direction       string    `json:"direction"`
	Side            string    `json:"side"`
	AllocatedBtc    string    `json:"allocated_btc"`
	AllocatedFiat   string    `json:"allocated_fiat"`
	AllocatedFee    string    `json:"allocated_fee"`
	ExchangeOrderID string    `json:"exchange_order_id"`
	SettledAt       time.Time `json:"settled_at"`
}

// Publisher sends settlement events to a Kafka topic.
type Publisher struct {
	writer *kafka.Writer
	logger *logrus.Logger
}

// NewPublisher creates a publisher writing to the given broker and topic.
func NewPublisher(broker, topic string, logger *logrus.Logger) *Publisher {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(broker),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &Publisher{writer: writer, logger: logger}
}

// PublishSettlement serializes and sends one settlement event. Writes are
// bounded to five seconds so a slow broker cannot stall a reconciliation
// cycle.
func (p *Publisher) PublishSettlement(ctx context.Context, ev SettlementEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("serialize settlement event: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(ev.LedgerTxID),
		Value: data,
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("kafka write failed: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
