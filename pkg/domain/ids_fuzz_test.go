package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseIssuerNIF checks that NIF parsing never panics and that every
// accepted value round-trips through its normalized form.
func FuzzParseIssuerNIF(f *testing.F) {
	f.Add("")
	f.Add("B12345678")
	f.Add("12345678Z")
	f.Add("  b12345678 ")
	f.Add("X1234567T")
	f.Add("'; DROP TABLE issuers;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		nif, err := ParseIssuerNIF(input)
		if err != nil {
			return
		}
		roundTrip, err2 := ParseIssuerNIF(nif.String())
		if err2 != nil {
			t.Errorf("accepted NIF failed round-trip: %v", err2)
		}
		if roundTrip != nif {
			t.Error("round-trip changed NIF value")
		}
		if !utf8.ValidString(nif.String()) {
			t.Error("accepted NIF is not valid UTF-8")
		}
	})
}

// FuzzParseUUIDIDs checks that the UUID-backed ID types share one validation
// behavior: any input is either accepted by all of them or rejected by all.
func FuzzParseUUIDIDs(f *testing.F) {
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("")
	f.Add("invalid")
	f.Add("550e8400-e29b-41d4-a716-446655440000\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		_, errInvoice := ParseInvoiceID(input)
		_, errSubmission := ParseSubmissionID(input)
		_, errEvent := ParseEventID(input)

		if (errInvoice == nil) != (errSubmission == nil) || (errInvoice == nil) != (errEvent == nil) {
			t.Error("inconsistent parsing across ID types")
		}
		if errInvoice == nil {
			parsed, _ := ParseInvoiceID(input)
			if roundTrip, err := ParseInvoiceID(parsed.String()); err != nil || roundTrip != parsed {
				t.Error("invoice ID failed round-trip")
			}
		}
	})
}
