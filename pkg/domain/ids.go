// Package domain defines the typed identifiers shared across billing packages.
//
// IDs are distinct types rather than bare strings/uuids so that an issuer NIF
// can never be passed where an invoice ID is expected. Conversions are explicit
// at the boundaries (HTTP handlers, stores).
package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// InvoiceID identifies a single invoice record.
type InvoiceID uuid.UUID

// SubmissionID identifies a submission record for one chain entry.
type SubmissionID uuid.UUID

// EventID identifies an outbox event.
type EventID uuid.UUID

// IssuerNIF is the Spanish tax identification number of a billing issuer.
// It is the natural key for sequence counters and hash chains.
type IssuerNIF string

// nifPattern accepts CIF/NIF forms: a letter or digit prefix, seven digits,
// and a trailing control character. Full checksum validation is left to the
// authority; this guards against obviously malformed input.
var nifPattern = regexp.MustCompile(`^[0-9A-Z][0-9]{7}[0-9A-Z]$`)

// ParseIssuerNIF normalizes and validates a NIF string.
func ParseIssuerNIF(s string) (IssuerNIF, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if !nifPattern.MatchString(s) {
		return "", fmt.Errorf("malformed NIF %q", s)
	}
	return IssuerNIF(s), nil
}

func (n IssuerNIF) String() string { return string(n) }

// IsZero reports whether the NIF is unset.
func (n IssuerNIF) IsZero() bool { return n == "" }

// NewInvoiceID returns a fresh random invoice ID.
func NewInvoiceID() InvoiceID { return InvoiceID(uuid.New()) }

// ParseInvoiceID parses the canonical UUID form.
func ParseInvoiceID(s string) (InvoiceID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return InvoiceID{}, fmt.Errorf("malformed invoice id: %w", err)
	}
	return InvoiceID(u), nil
}

func (i InvoiceID) String() string { return uuid.UUID(i).String() }

// IsNil reports whether the ID is the zero UUID.
func (i InvoiceID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

// MarshalText renders the canonical UUID form, so JSON carries a string.
func (i InvoiceID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText parses the canonical UUID form.
func (i *InvoiceID) UnmarshalText(b []byte) error {
	parsed, err := ParseInvoiceID(string(b))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// NewSubmissionID returns a fresh random submission ID.
func NewSubmissionID() SubmissionID { return SubmissionID(uuid.New()) }

// ParseSubmissionID parses the canonical UUID form.
func ParseSubmissionID(s string) (SubmissionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return SubmissionID{}, fmt.Errorf("malformed submission id: %w", err)
	}
	return SubmissionID(u), nil
}

func (s SubmissionID) String() string { return uuid.UUID(s).String() }

// IsNil reports whether the ID is the zero UUID.
func (s SubmissionID) IsNil() bool { return uuid.UUID(s) == uuid.Nil }

// MarshalText renders the canonical UUID form, so JSON carries a string.
func (s SubmissionID) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses the canonical UUID form.
func (s *SubmissionID) UnmarshalText(b []byte) error {
	parsed, err := ParseSubmissionID(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// NewEventID returns a fresh random event ID.
func NewEventID() EventID { return EventID(uuid.New()) }

// ParseEventID parses the canonical UUID form.
func ParseEventID(s string) (EventID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return EventID{}, fmt.Errorf("malformed event id: %w", err)
	}
	return EventID(u), nil
}

func (e EventID) String() string { return uuid.UUID(e).String() }

// MarshalText renders the canonical UUID form, so JSON carries a string.
func (e EventID) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// UnmarshalText parses the canonical UUID form.
func (e *EventID) UnmarshalText(b []byte) error {
	parsed, err := ParseEventID(string(b))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
