package metrics

// Metric names used across the engine.
const (
	WritesTotal        = "writes_total"
	RecordsTotal       = "filter_records_total"
	JobsTotal          = "compaction_jobs_total"
	CompactionDuration = "compaction_duration_seconds"
	FlushesTotal       = "flushes_total"
	FlushDuration      = "flush_duration_seconds"
	Tables             = "tables"
	TableBytes         = "table_bytes"
)

// Collector captures counters, gauges and histograms.
type Collector interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveHistogram(name string, labels map[string]string, value float64)
}

// Noop discards everything.
type Noop struct{}

func (Noop) IncCounter(string, map[string]string, float64)       {}
func (Noop) SetGauge(string, map[string]string, float64)         {}
func (Noop) ObserveHistogram(string, map[string]string, float64) {}
