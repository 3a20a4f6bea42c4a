package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"facturador/internal/billing/models"
	"facturador/internal/billing/money"
)

// CanonicalBytes serializes the immutable fiscal fields of a numbered invoice
// into a deterministic byte sequence: fixed field order, key=value lines,
// amounts with exactly two decimals, dates in ISO form, UTF-8, '\n' joined.
// Any change to these fields after numbering changes the content hash and
// therefore breaks the chain, which is the point.
func CanonicalBytes(inv *models.Invoice) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "issuer=%s\n", inv.IssuerNIF)
	fmt.Fprintf(&b, "number=%s\n", inv.Number())
	fmt.Fprintf(&b, "issue_date=%s\n", inv.IssueDate.Format("2006-01-02"))
	fmt.Fprintf(&b, "counterparty_nif=%s\n", inv.Counterparty.NIF)
	fmt.Fprintf(&b, "counterparty_name=%s\n", inv.Counterparty.Name)
	fmt.Fprintf(&b, "currency=%s\n", inv.Currency)
	fmt.Fprintf(&b, "base=%s\n", money.Format(inv.Breakdown.TotalBase))
	fmt.Fprintf(&b, "tax=%s\n", money.Format(inv.Breakdown.TotalTax))
	fmt.Fprintf(&b, "total=%s\n", money.Format(inv.Breakdown.Total))
	for _, line := range inv.Lines {
		fmt.Fprintf(&b, "line.%d=%s\n", line.LineNumber, line.Description)
	}
	return []byte(b.String())
}

// ContentHash is the lowercase hex SHA-256 of the canonical invoice bytes.
func ContentHash(inv *models.Invoice) string {
	sum := sha256.Sum256(CanonicalBytes(inv))
	return hex.EncodeToString(sum[:])
}

// EntryHash chains a content hash to its predecessor:
// SHA-256(contentHash || previousHash) over the hex strings.
func EntryHash(contentHash, previousHash string) string {
	sum := sha256.Sum256([]byte(contentHash + previousHash))
	return hex.EncodeToString(sum[:])
}
