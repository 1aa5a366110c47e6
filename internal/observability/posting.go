package observability

// ObservePosting counts one engine command.
func (m *Metrics) ObservePosting(docType, op, outcome string) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(docType, op, outcome).Inc()
}

// ObserveStockRejection counts one insufficient-stock rejection.
func (m *Metrics) ObserveStockRejection(docType string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(docType).Inc()
}

// ObserveLedgerWrite counts one ledger write.
func (m *Metrics) ObserveLedgerWrite(op string) {
	if m == nil {
		return
	}
	m.ledgerWrites.WithLabelValues(op).Inc()
}
