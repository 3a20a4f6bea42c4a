// Package facturae renders acknowledged invoices as Facturae 3.2.2 XML
// documents for B2B interchange.
package facturae

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"unicode"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"facturador/internal/billing/models"
	"facturador/internal/billing/money"
	"facturador/internal/platform/config"
)

const facturaeNamespace = "http://www.facturae.gob.es/formato/Versiones/Facturae_3_2_2.xsd"

// ExportValidationError reports an invoice that is not eligible for export.
type ExportValidationError struct {
	InvoiceID string
	Reason    string
}

func (e *ExportValidationError) Error() string {
	return fmt.Sprintf("invoice %s cannot be exported: %s", e.InvoiceID, e.Reason)
}

// Seller is the issuing party as it appears in the document. Resolved from
// the issuer registry by the caller.
type Seller struct {
	NIF         string
	Name        string
	Address     string
	PostCode    string
	Town        string
	Province    string
	CountryCode string
}

// Exporter writes Facturae documents to the export directory. Output is a
// pure function of the invoice and seller, so re-exporting an invoice
// produces byte-identical content and the existing file is left untouched.
type Exporter struct {
	dir           string
	schemaVersion string
	requireAck    bool
	signer        *Signer
	logger        *slog.Logger
}

// NewExporter builds an exporter from configuration. A signer is attached
// when signed exports are enabled.
func NewExporter(cfg config.Facturae, logger *slog.Logger) (*Exporter, error) {
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("facturae output directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Exporter{
		dir:           cfg.OutputDir,
		schemaVersion: cfg.SchemaVersion,
		requireAck:    cfg.RequireAck,
		logger:        logger,
	}
	if cfg.SignExports {
		signer, err := NewSigner(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("configure facturae signer: %w", err)
		}
		e.signer = signer
	}
	return e, nil
}

// Export renders the invoice and writes it under
// <dir>/<issuer NIF>/facturae-<year>-<sequence>.xsig|xml. Returns the
// written path. Idempotent: an existing identical file is reused.
func (e *Exporter) Export(ctx context.Context, inv *models.Invoice, seller Seller) (string, error) {
	if err := e.validate(inv); err != nil {
		return "", err
	}

	doc, err := e.render(inv, seller)
	if err != nil {
		return "", err
	}
	doc.Indent(2)
	content, err := doc.WriteToBytes()
	if err != nil {
		return "", fmt.Errorf("serialize facturae document: %w", err)
	}

	path := e.Path(inv)
	if existing, err := os.ReadFile(path); err == nil {
		if bytes.Equal(existing, content) {
			return path, nil
		}
		return "", fmt.Errorf("export target %s exists with different content", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o640); err != nil {
		return "", fmt.Errorf("write facturae document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize facturae document: %w", err)
	}

	e.logger.InfoContext(ctx, "facturae document written", "invoice", inv.ID, "number", inv.Number(), "path", path)
	return path, nil
}

// Path returns the deterministic export location for a numbered invoice.
// Signed documents carry the .xsig extension, plain ones .xml.
func (e *Exporter) Path(inv *models.Invoice) string {
	ext := "xml"
	if e.signer != nil {
		ext = "xsig"
	}
	name := fmt.Sprintf("facturae-%d-%08d.%s", inv.FiscalYear, inv.Sequence, ext)
	return filepath.Join(e.dir, inv.IssuerNIF.String(), name)
}

func (e *Exporter) validate(inv *models.Invoice) error {
	if inv.Sequence == 0 {
		return &ExportValidationError{InvoiceID: inv.ID.String(), Reason: "invoice has no number"}
	}
	switch inv.Status {
	case models.StatusAcknowledged, models.StatusExported:
		return nil
	case models.StatusVoided, models.StatusRejected:
		return &ExportValidationError{InvoiceID: inv.ID.String(), Reason: fmt.Sprintf("invoice is %s", inv.Status)}
	default:
		if e.requireAck {
			return &ExportValidationError{InvoiceID: inv.ID.String(), Reason: "authority acknowledgement pending"}
		}
		return nil
	}
}

func (e *Exporter) render(inv *models.Invoice, seller Seller) (*etree.Document, error) {
	if seller.NIF == "" || seller.Name == "" {
		return nil, fmt.Errorf("seller identification is incomplete")
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("fe:Facturae")
	root.CreateAttr("xmlns:fe", facturaeNamespace)
	root.CreateAttr("xmlns:ds", "http://www.w3.org/2000/09/xmldsig#")

	e.fileHeader(root, inv, seller)
	e.parties(root, inv, seller)
	e.invoices(root, inv)

	if e.signer != nil {
		signed, err := e.signer.Sign(root)
		if err != nil {
			return nil, fmt.Errorf("sign facturae document: %w", err)
		}
		doc.SetRoot(signed)
	}
	return doc, nil
}

func (e *Exporter) fileHeader(root *etree.Element, inv *models.Invoice, seller Seller) {
	header := root.CreateElement("FileHeader")
	header.CreateElement("SchemaVersion").SetText(e.schemaVersion)
	header.CreateElement("Modality").SetText("I")
	header.CreateElement("InvoiceIssuerType").SetText("EM")

	batch := header.CreateElement("Batch")
	batch.CreateElement("BatchIdentifier").SetText(fmt.Sprintf("%s%d%08d", seller.NIF, inv.FiscalYear, inv.Sequence))
	batch.CreateElement("InvoicesCount").SetText("1")
	totalAmount := batch.CreateElement("TotalInvoicesAmount")
	totalAmount.CreateElement("TotalAmount").SetText(money.Format(inv.Breakdown.Total))
	outstanding := batch.CreateElement("TotalOutstandingAmount")
	outstanding.CreateElement("TotalAmount").SetText(money.Format(inv.Breakdown.Total))
	executable := batch.CreateElement("TotalExecutableAmount")
	executable.CreateElement("TotalAmount").SetText(money.Format(inv.Breakdown.Total))
	batch.CreateElement("InvoiceCurrencyCode").SetText(inv.Currency)
}

func (e *Exporter) parties(root *etree.Element, inv *models.Invoice, seller Seller) {
	parties := root.CreateElement("Parties")

	sellerParty := parties.CreateElement("SellerParty")
	taxID := sellerParty.CreateElement("TaxIdentification")
	taxID.CreateElement("PersonTypeCode").SetText("J")
	taxID.CreateElement("ResidenceTypeCode").SetText("R")
	taxID.CreateElement("TaxIdentificationNumber").SetText(seller.NIF)

	legal := sellerParty.CreateElement("LegalEntity")
	legal.CreateElement("CorporateName").SetText(seller.Name)
	addr := legal.CreateElement("AddressInSpain")
	addr.CreateElement("Address").SetText(seller.Address)
	addr.CreateElement("PostCode").SetText(seller.PostCode)
	addr.CreateElement("Town").SetText(seller.Town)
	addr.CreateElement("Province").SetText(seller.Province)
	addr.CreateElement("CountryCode").SetText(countryOrDefault(seller.CountryCode))

	buyerParty := parties.CreateElement("BuyerParty")
	buyerTaxID := buyerParty.CreateElement("TaxIdentification")
	cp := inv.Counterparty
	if isCorporateNIF(cp.NIF) {
		buyerTaxID.CreateElement("PersonTypeCode").SetText("J")
	} else {
		buyerTaxID.CreateElement("PersonTypeCode").SetText("F")
	}
	buyerTaxID.CreateElement("ResidenceTypeCode").SetText("R")
	buyerTaxID.CreateElement("TaxIdentificationNumber").SetText(cp.NIF)

	if isCorporateNIF(cp.NIF) {
		legal := buyerParty.CreateElement("LegalEntity")
		legal.CreateElement("CorporateName").SetText(cp.Name)
		buyerAddress(legal, cp)
	} else {
		individual := buyerParty.CreateElement("Individual")
		individual.CreateElement("Name").SetText(cp.Name)
		buyerAddress(individual, cp)
	}
}

func buyerAddress(parent *etree.Element, cp models.Counterparty) {
	if cp.Address == "" {
		return
	}
	addr := parent.CreateElement("AddressInSpain")
	addr.CreateElement("Address").SetText(cp.Address)
	addr.CreateElement("PostCode").SetText(cp.PostCode)
	addr.CreateElement("Town").SetText(cp.Town)
	addr.CreateElement("Province").SetText(cp.Province)
	addr.CreateElement("CountryCode").SetText(countryOrDefault(cp.Country))
}

func (e *Exporter) invoices(root *etree.Element, inv *models.Invoice) {
	invoices := root.CreateElement("Invoices")
	invoice := invoices.CreateElement("Invoice")

	header := invoice.CreateElement("InvoiceHeader")
	header.CreateElement("InvoiceNumber").SetText(inv.Number())
	header.CreateElement("InvoiceDocumentType").SetText("FC")
	if inv.IsRectification() {
		header.CreateElement("InvoiceClass").SetText("OR")
		corrective := header.CreateElement("Corrective")
		corrective.CreateElement("InvoiceNumber").SetText(inv.RectifiesNumber)
		corrective.CreateElement("ReasonCode").SetText("01")
		corrective.CreateElement("CorrectionMethod").SetText("01")
	} else {
		header.CreateElement("InvoiceClass").SetText("OO")
	}

	issueData := invoice.CreateElement("InvoiceIssueData")
	issueData.CreateElement("IssueDate").SetText(inv.IssueDate.Format("2006-01-02"))
	issueData.CreateElement("InvoiceCurrencyCode").SetText(inv.Currency)
	issueData.CreateElement("TaxCurrencyCode").SetText(inv.Currency)
	issueData.CreateElement("LanguageName").SetText("es")

	taxes := invoice.CreateElement("TaxesOutputs")
	for _, g := range inv.Breakdown.Groups {
		tax := taxes.CreateElement("Tax")
		tax.CreateElement("TaxTypeCode").SetText("01")
		tax.CreateElement("TaxRate").SetText(money.Format(g.RatePct))
		base := tax.CreateElement("TaxableBase")
		base.CreateElement("TotalAmount").SetText(money.Format(g.Base))
		amount := tax.CreateElement("TaxAmount")
		amount.CreateElement("TotalAmount").SetText(money.Format(g.Tax))
	}

	totals := invoice.CreateElement("InvoiceTotals")
	totals.CreateElement("TotalGrossAmount").SetText(money.Format(inv.Breakdown.TotalBase))
	totals.CreateElement("TotalGrossAmountBeforeTaxes").SetText(money.Format(inv.Breakdown.TotalBase))
	totals.CreateElement("TotalTaxOutputs").SetText(money.Format(inv.Breakdown.TotalTax))
	totals.CreateElement("InvoiceTotal").SetText(money.Format(inv.Breakdown.Total))
	totals.CreateElement("TotalOutstandingAmount").SetText(money.Format(inv.Breakdown.Total))
	totals.CreateElement("TotalExecutableAmount").SetText(money.Format(inv.Breakdown.Total))

	items := invoice.CreateElement("Items")
	for _, line := range inv.Lines {
		item := items.CreateElement("InvoiceLine")
		if line.ServiceCode != "" {
			item.CreateElement("ArticleCode").SetText(line.ServiceCode)
		}
		item.CreateElement("ItemDescription").SetText(line.Description)
		item.CreateElement("Quantity").SetText(line.Quantity.String())
		item.CreateElement("UnitOfMeasure").SetText("01")
		item.CreateElement("UnitPriceWithoutTax").SetText(money.Format(line.UnitPrice))
		item.CreateElement("TotalCost").SetText(money.Format(line.BaseAmount))
		if line.DiscountPct.GreaterThan(decimal.Zero) {
			discounts := item.CreateElement("DiscountsAndRebates")
			discount := discounts.CreateElement("Discount")
			discount.CreateElement("DiscountReason").SetText("Descuento comercial")
			discount.CreateElement("DiscountRate").SetText(money.Format(line.DiscountPct))
		}
	}
}

func countryOrDefault(code string) string {
	if code == "" {
		return "ESP"
	}
	if code == "ES" {
		return "ESP"
	}
	return code
}

// isCorporateNIF distinguishes company CIFs (letter prefix) from personal
// NIFs (digit prefix).
func isCorporateNIF(nif string) bool {
	if nif == "" {
		return false
	}
	return unicode.IsLetter(rune(nif[0]))
}
