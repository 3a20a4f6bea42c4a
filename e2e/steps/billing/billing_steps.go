// Package billing holds the invoice lifecycle steps of the end to end suite.
package billing

import (
	"fmt"
	"time"

	"github.com/cucumber/godog"
)

// TestContext is the slice of the suite context the billing steps need.
type TestContext interface {
	POST(path string, body any) error
	GET(path string) error
	AdminPOST(path string, body any) error
	LastStatus() int
	ResponseField(field string) (any, error)
	SetInvoiceID(id string)
	InvoiceID() string
	SetIssuerNIF(nif string)
	IssuerNIF() string
}

// RegisterSteps registers the invoice lifecycle steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &billingSteps{tc: tc}

	ctx.Step(`^issuer "([^"]*)" named "([^"]*)" is registered$`, steps.issuerIsRegistered)
	ctx.Step(`^I create a draft invoice for "([^"]*)" with a (general|reduced|super_reduced|medical) line of ([\d.]+)$`, steps.createDraft)
	ctx.Step(`^I issue the invoice$`, steps.issueInvoice)
	ctx.Step(`^I void the invoice with reason "([^"]*)"$`, steps.voidInvoice)
	ctx.Step(`^I rectify the invoice with reason "([^"]*)"$`, steps.rectifyInvoice)
	ctx.Step(`^I fetch the invoice$`, steps.fetchInvoice)
	ctx.Step(`^the invoice reaches the authority$`, steps.invoiceReachesAuthority)
	ctx.Step(`^the invoice should be numbered$`, steps.invoiceShouldBeNumbered)
	ctx.Step(`^the issuer chain should verify clean$`, steps.chainShouldVerify)
}

type billingSteps struct {
	tc TestContext
}

func (s *billingSteps) issuerIsRegistered(nif, legalName string) error {
	err := s.tc.AdminPOST("/admin/issuers", map[string]any{
		"nif":        nif,
		"legal_name": legalName,
	})
	if err != nil {
		return err
	}
	// 409 means a previous scenario already registered it, which is fine.
	if s.tc.LastStatus() != 201 && s.tc.LastStatus() != 409 {
		return fmt.Errorf("register issuer returned %d", s.tc.LastStatus())
	}
	s.tc.SetIssuerNIF(nif)
	return nil
}

func (s *billingSteps) createDraft(counterpartyName, rateClass string, amount float64) error {
	err := s.tc.POST("/billing/invoices", map[string]any{
		"issuer_nif": s.tc.IssuerNIF(),
		"counterparty": map[string]any{
			"nif":  "12345678Z",
			"name": counterpartyName,
		},
		"lines": []map[string]any{
			{
				"description": "Professional services",
				"quantity":    "1",
				"unit_price":  fmt.Sprintf("%.2f", amount),
				"rate_class":  rateClass,
			},
		},
	})
	if err != nil {
		return err
	}
	if s.tc.LastStatus() != 201 {
		return fmt.Errorf("create draft returned %d", s.tc.LastStatus())
	}
	id, err := s.tc.ResponseField("id")
	if err != nil {
		return err
	}
	s.tc.SetInvoiceID(fmt.Sprintf("%v", id))
	return nil
}

func (s *billingSteps) issueInvoice() error {
	return s.tc.POST("/billing/invoices/"+s.tc.InvoiceID()+"/issue", nil)
}

func (s *billingSteps) voidInvoice(reason string) error {
	return s.tc.POST("/billing/invoices/"+s.tc.InvoiceID()+"/void", map[string]any{
		"reason": reason,
	})
}

func (s *billingSteps) rectifyInvoice(reason string) error {
	err := s.tc.POST("/billing/invoices/"+s.tc.InvoiceID()+"/rectify", map[string]any{
		"reason": reason,
	})
	if err != nil {
		return err
	}
	if s.tc.LastStatus() != 201 {
		return nil
	}
	// The rectifying invoice becomes the one under test.
	id, err := s.tc.ResponseField("id")
	if err != nil {
		return err
	}
	s.tc.SetInvoiceID(fmt.Sprintf("%v", id))
	return nil
}

func (s *billingSteps) fetchInvoice() error {
	return s.tc.GET("/billing/invoices/" + s.tc.InvoiceID())
}

// invoiceReachesAuthority polls until the background dispatcher has handed
// the invoice to the authority. Submission is asynchronous, so lifecycle
// scenarios that depend on it have to wait.
func (s *billingSteps) invoiceReachesAuthority() error {
	deadline := time.Now().Add(45 * time.Second)
	for {
		if err := s.tc.GET("/billing/invoices/" + s.tc.InvoiceID()); err != nil {
			return err
		}
		status, err := s.tc.ResponseField("status")
		if err != nil {
			return err
		}
		switch fmt.Sprintf("%v", status) {
		case "SUBMITTED", "ACKNOWLEDGED", "REJECTED":
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("invoice %s never reached the authority, status is %v", s.tc.InvoiceID(), status)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func (s *billingSteps) invoiceShouldBeNumbered() error {
	status, err := s.tc.ResponseField("status")
	if err != nil {
		return err
	}
	switch got := fmt.Sprintf("%v", status); got {
	case "NUMBERED", "SUBMITTED", "ACKNOWLEDGED":
	default:
		return fmt.Errorf("expected a numbered invoice, status is %q", got)
	}
	number, err := s.tc.ResponseField("number")
	if err != nil {
		return err
	}
	if fmt.Sprintf("%v", number) == "" {
		return fmt.Errorf("issued invoice carries no number")
	}
	return nil
}

func (s *billingSteps) chainShouldVerify() error {
	err := s.tc.AdminPOST("/admin/issuers/"+s.tc.IssuerNIF()+"/chain/verify", nil)
	if err != nil {
		return err
	}
	if s.tc.LastStatus() != 200 {
		return fmt.Errorf("chain verify returned %d", s.tc.LastStatus())
	}
	intact, err := s.tc.ResponseField("intact")
	if err != nil {
		return err
	}
	if fmt.Sprintf("%v", intact) != "true" {
		return fmt.Errorf("chain verification reported a break")
	}
	return nil
}
