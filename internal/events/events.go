// Package events publishes domain events to Kafka. Events are strictly
// best effort: a nil or failing publisher never affects the anchoring or
// redemption outcome.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	anchormodels "attestor/internal/anchor/models"
	claimmodels "attestor/internal/claim/models"
	"attestor/internal/platform/kafka/producer"
)

// Topics carrying attestor domain events.
const (
	TopicBatchAnchored  = "attestor.batch.anchored"
	TopicTicketRedeemed = "attestor.ticket.redeemed"
)

// Producer is the transport the publisher writes through.
type Producer interface {
	ProduceAsync(msg *producer.Message) error
}

// Publisher emits anchoring and redemption events.
type Publisher struct {
	producer Producer
	logger   *slog.Logger
}

// NewPublisher constructs an event publisher. A nil producer yields a
// publisher that drops everything, so wiring stays unconditional.
func NewPublisher(producer Producer, logger *slog.Logger) *Publisher {
	return &Publisher{producer: producer, logger: logger}
}

type batchAnchoredEvent struct {
	BatchID    string    `json:"batch_id"`
	MerkleRoot string    `json:"merkle_root"`
	LedgerTxID string    `json:"ledger_tx_id"`
	ChainID    int64     `json:"chain_id"`
	LeafCount  int       `json:"leaf_count"`
	AnchoredAt time.Time `json:"anchored_at"`
	EmittedAt  time.Time `json:"emitted_at"`
}

// BatchAnchored announces a freshly anchored batch.
func (p *Publisher) BatchAnchored(ctx context.Context, batch *anchormodels.AnchorBatch) {
	if p == nil || p.producer == nil {
		return
	}
	p.emit(ctx, TopicBatchAnchored, batch.BatchID, batchAnchoredEvent{
		BatchID:    batch.BatchID,
		MerkleRoot: batch.MerkleRoot,
		LedgerTxID: batch.LedgerTxID,
		ChainID:    batch.ChainID,
		LeafCount:  batch.LeafCount,
		AnchoredAt: batch.AnchoredAt,
		EmittedAt:  time.Now().UTC(),
	})
}

type ticketRedeemedEvent struct {
	CredentialID string    `json:"credential_id"`
	IssuerID     string    `json:"issuer_id"`
	HolderID     string    `json:"holder_id,omitempty"`
	EmittedAt    time.Time `json:"emitted_at"`
}

// TicketRedeemed announces a successful redemption. The token itself is
// never emitted.
func (p *Publisher) TicketRedeemed(ctx context.Context, ticket *claimmodels.Ticket, holderID string) {
	if p == nil || p.producer == nil {
		return
	}
	p.emit(ctx, TopicTicketRedeemed, ticket.CredentialID.String(), ticketRedeemedEvent{
		CredentialID: ticket.CredentialID.String(),
		IssuerID:     ticket.IssuerID,
		HolderID:     holderID,
		EmittedAt:    time.Now().UTC(),
	})
}

func (p *Publisher) emit(ctx context.Context, topic, key string, event any) {
	value, err := json.Marshal(event)
	if err != nil {
		p.logger.WarnContext(ctx, "failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := p.producer.ProduceAsync(&producer.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}); err != nil {
		p.logger.WarnContext(ctx, "failed to publish event", "topic", topic, "error", err)
	}
}
