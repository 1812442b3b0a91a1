package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	formats := []string{"avif", "webp"}
	statuses := []string{"optimized", "skipped", "failed"}

	// --- Converter outcomes ---
	for _, f := range formats {
		ConversionsTotal.WithLabelValues(f, "success")
		ConversionsTotal.WithLabelValues(f, "error")
		ConversionsTotal.WithLabelValues(f, "timeout")
		ConversionsTotal.WithLabelValues(f, "unsupported")
		ConversionDuration.WithLabelValues(f)
		ConversionSavingsPct.WithLabelValues(f)
		CandidatesByFormat.WithLabelValues(f)
	}

	// --- Batch results and store state ---
	for _, s := range statuses {
		BatchAssetsProcessed.WithLabelValues(s)
		AssetsByStatus.WithLabelValues(s)
	}

	// --- Negotiator outcomes ---
	for _, f := range append(formats, "original") {
		NegotiationsTotal.WithLabelValues(f)
	}

	// --- Store query operations ---
	for _, op := range []string{"initialize_schema", "get_record", "upsert_record",
		"delete_record", "list_pending", "count_pending", "aggregate_stats",
		"get_cursor", "set_cursor"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, t := range []string{"commit", "rollback"} {
		DBTransactionDuration.WithLabelValues(t)
	}
}
