package models

import (
	"time"

	id "facturador/pkg/domain"
)

// GenesisHash is the previous-hash value of the first chain entry for an
// issuer: 64 zero hex characters, the width of a SHA-256 digest.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ChainEntry is one block of an issuer's tamper-evident ledger. Entries are
// append-only: never updated, never deleted. For a given issuer they form a
// strictly ordered singly-linked list by (fiscal year, sequence), and
// replaying them from the first entry must reproduce every stored EntryHash.
type ChainEntry struct {
	IssuerNIF    id.IssuerNIF `json:"issuer_nif"`
	FiscalYear   int          `json:"fiscal_year"`
	Sequence     int64        `json:"sequence"`
	ContentHash  string       `json:"content_hash"`  // SHA-256 of the canonical invoice fields, hex
	PreviousHash string       `json:"previous_hash"` // EntryHash of the predecessor, or GenesisHash
	EntryHash    string       `json:"entry_hash"`    // SHA-256(ContentHash || PreviousHash), hex
	CreatedAt    time.Time    `json:"created_at"`
}
