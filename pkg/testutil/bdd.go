package testutil

import "testing"

// Given, When, and Then wrap t.Run so lifecycle tests read as scenarios
// (draft, issue, verify) without pulling in a BDD framework. The full
// Gherkin suite lives in e2e; these are for in-process tests.
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Given "+desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("When "+desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Then "+desc, fn)
}
