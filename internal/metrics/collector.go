package metrics

import (
	"time"

	"image-optimizer/internal/logging"
)

// StatsProvider supplies optimization statistics for metric publication.
type StatsProvider interface {
	GetStats() Stats
}

// Stats holds the aggregate optimization state published as gauges.
type Stats struct {
	TotalOptimized  int64
	TotalSkipped    int64
	TotalFailed     int64
	PendingAssets   int64
	BytesSaved      int64
	AvgSavingsPct   float64
	PerFormatCounts map[string]int64
}

// Collector periodically pulls aggregate stats and updates gauges
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	// Collect immediately on start
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()

	AssetsByStatus.WithLabelValues("optimized").Set(float64(stats.TotalOptimized))
	AssetsByStatus.WithLabelValues("skipped").Set(float64(stats.TotalSkipped))
	AssetsByStatus.WithLabelValues("failed").Set(float64(stats.TotalFailed))
	PendingAssets.Set(float64(stats.PendingAssets))
	BytesSavedTotal.Set(float64(stats.BytesSaved))
	AverageSavingsPct.Set(stats.AvgSavingsPct)

	for format, count := range stats.PerFormatCounts {
		CandidatesByFormat.WithLabelValues(format).Set(float64(count))
	}

	logging.Debug("Metrics collected: optimized=%d, skipped=%d, pending=%d, bytesSaved=%d",
		stats.TotalOptimized, stats.TotalSkipped, stats.PendingAssets, stats.BytesSaved)
}
