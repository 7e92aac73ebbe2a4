package tick

// metricsHistorySize bounds the rolling history kept by BatchMetrics.
const metricsHistorySize = 128

// BatchMetrics keeps a bounded rolling history of batch execution costs.
// It informs batch-size tuning only and never affects correctness.
type BatchMetrics struct {
	tickDurationsMs []float64
	tickCursor      int
	tickSamples     int

	batchSizes  []int
	batchCursor int

	batchesRun        uint64
	ticksProcessed    uint64
	idleSkipped       uint64
	budgetOverruns    uint64
	maxTickDurationMs float64
}

// NewBatchMetrics creates an empty metrics collector.
func NewBatchMetrics() *BatchMetrics {
	return &BatchMetrics{
		tickDurationsMs: make([]float64, metricsHistorySize),
		batchSizes:      make([]int, metricsHistorySize),
	}
}

func (m *BatchMetrics) recordTick(durationMs float64) {
	m.tickDurationsMs[m.tickCursor] = durationMs
	m.tickCursor = (m.tickCursor + 1) % metricsHistorySize
	if m.tickSamples < metricsHistorySize {
		m.tickSamples++
	}

	m.ticksProcessed++
	if durationMs > m.maxTickDurationMs {
		m.maxTickDurationMs = durationMs
	}
}

func (m *BatchMetrics) recordBatch(size int) {
	m.batchSizes[m.batchCursor] = size
	m.batchCursor = (m.batchCursor + 1) % metricsHistorySize
	m.batchesRun++
}

func (m *BatchMetrics) recordIdleSkip(ticks uint64) {
	m.idleSkipped += ticks
}

func (m *BatchMetrics) recordOverrun() {
	m.budgetOverruns++
}

// AverageTickDurationMs returns the rolling average cost of one tick, or
// zero when no tick has been measured yet.
func (m *BatchMetrics) AverageTickDurationMs() float64 {
	if m.tickSamples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < m.tickSamples; i++ {
		sum += m.tickDurationsMs[i]
	}

	return sum / float64(m.tickSamples)
}

// MaxTickDurationMs returns the worst tick cost observed.
func (m *BatchMetrics) MaxTickDurationMs() float64 {
	return m.maxTickDurationMs
}

// A MetricsSnapshot is a copyable view of BatchMetrics, safe to send across
// the worker boundary.
type MetricsSnapshot struct {
	BatchesRun        uint64  `json:"batches_run"`
	TicksProcessed    uint64  `json:"ticks_processed"`
	IdleSkipped       uint64  `json:"idle_skipped"`
	BudgetOverruns    uint64  `json:"budget_overruns"`
	AvgTickDurationMs float64 `json:"avg_tick_duration_ms"`
	MaxTickDurationMs float64 `json:"max_tick_duration_ms"`
	OptimalBatchSize  int     `json:"optimal_batch_size"`
}

func (m *BatchMetrics) snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		BatchesRun:        m.batchesRun,
		TicksProcessed:    m.ticksProcessed,
		IdleSkipped:       m.idleSkipped,
		BudgetOverruns:    m.budgetOverruns,
		AvgTickDurationMs: m.AverageTickDurationMs(),
		MaxTickDurationMs: m.maxTickDurationMs,
	}
}
