// Package metrics exposes Prometheus counters for the billing pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the billing collectors. One instance per process,
// registered against a single registerer.
type Metrics struct {
	invoicesIssued     prometheus.Counter
	invoicesVoided     prometheus.Counter
	rectifications     prometheus.Counter
	submissionOutcomes *prometheus.CounterVec
	submissionRetries  prometheus.Counter
	chainFailures      prometheus.Counter
	exportsWritten     prometheus.Counter
	issueDuration      prometheus.Histogram
}

// New registers the billing collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		invoicesIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "facturador_invoices_issued_total",
			Help: "Invoices that received a number and entered the chain.",
		}),
		invoicesVoided: factory.NewCounter(prometheus.CounterOpts{
			Name: "facturador_invoices_voided_total",
			Help: "Invoices voided before authority acknowledgement.",
		}),
		rectifications: factory.NewCounter(prometheus.CounterOpts{
			Name: "facturador_rectifications_total",
			Help: "Rectifying (credit note) invoices issued.",
		}),
		submissionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facturador_submission_outcomes_total",
			Help: "Terminal authority submission outcomes by result.",
		}, []string{"result"}),
		submissionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "facturador_submission_retries_total",
			Help: "Submission attempts rescheduled after a transient failure.",
		}),
		chainFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "facturador_chain_verification_failures_total",
			Help: "Chain verification runs that detected a broken or tampered link.",
		}),
		exportsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "facturador_facturae_exports_total",
			Help: "Facturae documents written to the export directory.",
		}),
		issueDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "facturador_issue_duration_seconds",
			Help:    "Wall time of the issuance transaction.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) InvoiceIssued()               { m.invoicesIssued.Inc() }
func (m *Metrics) InvoiceVoided()               { m.invoicesVoided.Inc() }
func (m *Metrics) RectificationIssued()         { m.rectifications.Inc() }
func (m *Metrics) SubmissionAcknowledged()      { m.submissionOutcomes.WithLabelValues("acknowledged").Inc() }
func (m *Metrics) SubmissionRejected()          { m.submissionOutcomes.WithLabelValues("rejected").Inc() }
func (m *Metrics) SubmissionExhausted()         { m.submissionOutcomes.WithLabelValues("exhausted").Inc() }
func (m *Metrics) SubmissionRetryScheduled()    { m.submissionRetries.Inc() }
func (m *Metrics) ChainVerificationFailed()     { m.chainFailures.Inc() }
func (m *Metrics) ExportWritten()               { m.exportsWritten.Inc() }
func (m *Metrics) ObserveIssue(seconds float64) { m.issueDuration.Observe(seconds) }
