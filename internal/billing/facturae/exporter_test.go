package facturae

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"facturador/internal/billing/models"
	"facturador/internal/platform/config"
)

func testSeller() Seller {
	return Seller{
		NIF:      "B12345678",
		Name:     "ThunderFat Nutrition SL",
		Address:  "Calle Mayor 1",
		PostCode: "28001",
		Town:     "Madrid",
		Province: "Madrid",
	}
}

func acknowledgedInvoice(t *testing.T) *models.Invoice {
	t.Helper()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	inv, err := models.NewDraft("B12345678",
		models.Counterparty{NIF: "12345678Z", Name: "Ana Torres", Address: "Gran Via 10", PostCode: "28013", Town: "Madrid", Province: "Madrid"},
		now, time.Time{}, []models.InvoiceLine{{
			Description: "Plan nutricional mensual",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.RequireFromString("100.00"),
			RateClass:   models.RateGeneral,
			BaseAmount:  decimal.RequireFromString("100.00"),
			RatePct:     decimal.NewFromInt(21),
			TaxAmount:   decimal.RequireFromString("21.00"),
			LineTotal:   decimal.RequireFromString("121.00"),
		}}, now)
	require.NoError(t, err)
	inv.Breakdown = models.TaxBreakdown{
		Groups: []models.TaxGroup{{
			RatePct: decimal.NewFromInt(21),
			Base:    decimal.RequireFromString("100.00"),
			Tax:     decimal.RequireFromString("21.00"),
		}},
		TotalBase: decimal.RequireFromString("100.00"),
		TotalTax:  decimal.RequireFromString("21.00"),
		Total:     decimal.RequireFromString("121.00"),
	}
	inv.ApplyNumbering(2026, 42, "abc", now)
	inv.ApplyAcknowledgement("AEAT-REF-042", "sello-2026", now)
	return inv
}

func newTestExporter(t *testing.T) *Exporter {
	t.Helper()
	exporter, err := NewExporter(config.Facturae{
		OutputDir:     t.TempDir(),
		SchemaVersion: "3.2.2",
		RequireAck:    true,
	}, nil)
	require.NoError(t, err)
	return exporter
}

func TestExportWritesDocument(t *testing.T) {
	exporter := newTestExporter(t)
	inv := acknowledgedInvoice(t)

	path, err := exporter.Export(context.Background(), inv, testSeller())
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, filepath.Join("B12345678", "facturae-2026-00000042.xml")), path)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromFile(path))
	root := doc.Root()
	require.Equal(t, "Facturae", root.Tag)

	require.Equal(t, "3.2.2", root.FindElement("FileHeader/SchemaVersion").Text())
	require.Equal(t, "I", root.FindElement("FileHeader/Modality").Text())
	require.Equal(t, "EM", root.FindElement("FileHeader/InvoiceIssuerType").Text())
	require.Equal(t, "B12345678", root.FindElement("Parties/SellerParty/TaxIdentification/TaxIdentificationNumber").Text())
	require.Equal(t, "F", root.FindElement("Parties/BuyerParty/TaxIdentification/PersonTypeCode").Text())
	require.Equal(t, "2026/00000042", root.FindElement("Invoices/Invoice/InvoiceHeader/InvoiceNumber").Text())
	require.Equal(t, "OO", root.FindElement("Invoices/Invoice/InvoiceHeader/InvoiceClass").Text())
	require.Equal(t, "2026-02-01", root.FindElement("Invoices/Invoice/InvoiceIssueData/IssueDate").Text())
	require.Equal(t, "21.00", root.FindElement("Invoices/Invoice/TaxesOutputs/Tax/TaxRate").Text())
	require.Equal(t, "121.00", root.FindElement("Invoices/Invoice/InvoiceTotals/InvoiceTotal").Text())
	require.Equal(t, "Plan nutricional mensual", root.FindElement("Invoices/Invoice/Items/InvoiceLine/ItemDescription").Text())
}

func TestExportIsIdempotent(t *testing.T) {
	exporter := newTestExporter(t)
	inv := acknowledgedInvoice(t)

	path1, err := exporter.Export(context.Background(), inv, testSeller())
	require.NoError(t, err)
	first, err := os.ReadFile(path1)
	require.NoError(t, err)

	path2, err := exporter.Export(context.Background(), inv, testSeller())
	require.NoError(t, err)
	require.Equal(t, path1, path2)

	second, err := os.ReadFile(path2)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestExportRefusesUnnumbered(t *testing.T) {
	exporter := newTestExporter(t)
	inv := acknowledgedInvoice(t)
	inv.Sequence = 0

	_, err := exporter.Export(context.Background(), inv, testSeller())
	var validationErr *ExportValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Reason, "no number")
}

func TestExportRequiresAcknowledgement(t *testing.T) {
	exporter := newTestExporter(t)
	inv := acknowledgedInvoice(t)
	inv.Status = models.StatusNumbered
	inv.AuthorityRef = ""

	_, err := exporter.Export(context.Background(), inv, testSeller())
	var validationErr *ExportValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Reason, "acknowledgement")
}

func TestExportAllowsUnregisteredWhenConfigured(t *testing.T) {
	exporter, err := NewExporter(config.Facturae{
		OutputDir:     t.TempDir(),
		SchemaVersion: "3.2.2",
		RequireAck:    false,
	}, nil)
	require.NoError(t, err)

	inv := acknowledgedInvoice(t)
	inv.Status = models.StatusNumbered
	_, err = exporter.Export(context.Background(), inv, testSeller())
	require.NoError(t, err)
}

func TestExportCorporateBuyer(t *testing.T) {
	exporter := newTestExporter(t)
	inv := acknowledgedInvoice(t)
	inv.Counterparty = models.Counterparty{NIF: "A87654321", Name: "Clinica Sol SL", Country: "ES"}

	path, err := exporter.Export(context.Background(), inv, testSeller())
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromFile(path))
	require.Equal(t, "J", doc.Root().FindElement("Parties/BuyerParty/TaxIdentification/PersonTypeCode").Text())
	require.Equal(t, "Clinica Sol SL", doc.Root().FindElement("Parties/BuyerParty/LegalEntity/CorporateName").Text())
}

func TestExportRectificationCarriesCorrective(t *testing.T) {
	exporter := newTestExporter(t)
	inv := acknowledgedInvoice(t)
	original := inv.ID
	inv.Rectifies = &original
	inv.RectifiesNumber = "2026/00000041"

	path, err := exporter.Export(context.Background(), inv, testSeller())
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromFile(path))
	header := doc.Root().FindElement("Invoices/Invoice/InvoiceHeader")
	require.Equal(t, "OR", header.FindElement("InvoiceClass").Text())
	require.Equal(t, "2026/00000041", header.FindElement("Corrective/InvoiceNumber").Text())
}

func TestPathExtensionFollowsSigner(t *testing.T) {
	exporter := newTestExporter(t)
	inv := acknowledgedInvoice(t)
	require.True(t, strings.HasSuffix(exporter.Path(inv), "facturae-2026-00000042.xml"))

	exporter.signer = &Signer{}
	require.True(t, strings.HasSuffix(exporter.Path(inv), "facturae-2026-00000042.xsig"))
}
