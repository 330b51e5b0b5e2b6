package models

import "time"

// PortablePayload is the externally shareable proof bundle returned on
// redemption. Its wire shape is stable: offline verifiers depend on these
// exact field names.
type PortablePayload struct {
	Digest    string           `json:"digest"`
	Salt      string           `json:"salt"`
	Signature []byte           `json:"signature"`
	KeyID     string           `json:"key_id"`
	Algorithm string           `json:"algorithm"`
	Anchoring PayloadAnchoring `json:"anchoring"`
}

// PayloadAnchoring is the anchoring snapshot embedded in a portable payload.
type PayloadAnchoring struct {
	State          AnchorState `json:"state"`
	BatchID        string      `json:"batch_id,omitempty"`
	LedgerTxID     string      `json:"ledger_tx_id,omitempty"`
	ChainID        int64       `json:"chain_id,omitempty"`
	AnchoredAt     *time.Time  `json:"anchored_at,omitempty"`
	InclusionProof []string    `json:"inclusion_proof,omitempty"`
}

// Portable projects the credential into its external payload. Internal
// bookkeeping (queue mode, approval metadata, holder binding) never leaves
// the engine.
func (c *SignedCredential) Portable() *PortablePayload {
	return &PortablePayload{
		Digest:    c.Digest,
		Salt:      c.Salt,
		Signature: append([]byte(nil), c.Signature...),
		KeyID:     c.KeyID,
		Algorithm: c.Algorithm,
		Anchoring: PayloadAnchoring{
			State:          c.Anchoring.State,
			BatchID:        c.Anchoring.BatchID,
			LedgerTxID:     c.Anchoring.LedgerTxID,
			ChainID:        c.Anchoring.ChainID,
			AnchoredAt:     c.Anchoring.AnchoredAt,
			InclusionProof: append([]string(nil), c.Anchoring.InclusionProof...),
		},
	}
}
