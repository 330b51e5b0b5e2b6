// Package models defines the anchor batch record.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AnchorBatch records one successful ledger submission. Created exactly once
// per submission and immutable thereafter.
//
// (ChainID, MerkleRoot) is unique: the same root is never anchored twice
// on the same ledger.
type AnchorBatch struct {
	BatchID    string
	MerkleRoot string
	LedgerTxID string
	ChainID    int64
	LeafCount  int
	AnchoredAt time.Time
}

// NewBatchID mints a human-sortable batch identifier: a compact UTC
// timestamp followed by a short random suffix.
func NewBatchID(now time.Time) string {
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405"), uuid.NewString()[:8])
}
