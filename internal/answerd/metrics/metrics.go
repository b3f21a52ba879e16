// Package metrics collects business metrics for the answer service.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// AnswerMetrics holds in-process counters for the answer pipeline.
type AnswerMetrics struct {
	queriesTotal       uint64
	queriesBlocked     uint64
	queriesErrors      uint64
	queriesCacheHits   uint64
	queriesCacheMisses uint64

	retrievalTotal    uint64
	retrievalErrors   uint64
	retrievalDuration float64

	generationTotal    uint64
	generationErrors   uint64
	generationRetries  uint64
	generationDuration float64

	jobsEnqueued   uint64
	jobsFailed     uint64
	answersPersist uint64

	startTime  time.Time
	durationMu sync.Mutex
}

var (
	globalMetrics *AnswerMetrics
	metricsOnce   sync.Once
)

// Get returns the global metrics instance.
func Get() *AnswerMetrics {
	metricsOnce.Do(func() {
		globalMetrics = &AnswerMetrics{startTime: time.Now()}
	})
	return globalMetrics
}

// RecordQuery records one answered query.
func (m *AnswerMetrics) RecordQuery(blocked bool, err error) {
	atomic.AddUint64(&m.queriesTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.queriesErrors, 1)
		return
	}
	if blocked {
		atomic.AddUint64(&m.queriesBlocked, 1)
	}
}

// RecordCacheLookup records a cache hit or miss.
func (m *AnswerMetrics) RecordCacheLookup(hit bool) {
	if hit {
		atomic.AddUint64(&m.queriesCacheHits, 1)
	} else {
		atomic.AddUint64(&m.queriesCacheMisses, 1)
	}
}

// RecordRetrieval records one retrieval pass.
func (m *AnswerMetrics) RecordRetrieval(duration time.Duration, err error) {
	atomic.AddUint64(&m.retrievalTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.retrievalErrors, 1)
		return
	}
	m.durationMu.Lock()
	m.retrievalDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordGeneration records one language-model call.
func (m *AnswerMetrics) RecordGeneration(duration time.Duration, err error) {
	atomic.AddUint64(&m.generationTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.generationErrors, 1)
		return
	}
	m.durationMu.Lock()
	m.generationDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordRegenerationRetry records one coverage-triggered retry.
func (m *AnswerMetrics) RecordRegenerationRetry() {
	atomic.AddUint64(&m.generationRetries, 1)
}

// RecordJob records one job enqueue attempt.
func (m *AnswerMetrics) RecordJob(err error) {
	atomic.AddUint64(&m.jobsEnqueued, 1)
	if err != nil {
		atomic.AddUint64(&m.jobsFailed, 1)
	}
}

// RecordPersist records one persisted answer.
func (m *AnswerMetrics) RecordPersist() {
	atomic.AddUint64(&m.answersPersist, 1)
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	QueriesTotal      uint64  `json:"queries_total"`
	QueriesBlocked    uint64  `json:"queries_blocked"`
	QueriesErrors     uint64  `json:"queries_errors"`
	CacheHits         uint64  `json:"cache_hits"`
	CacheMisses       uint64  `json:"cache_misses"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
	RetrievalTotal    uint64  `json:"retrieval_total"`
	RetrievalErrors   uint64  `json:"retrieval_errors"`
	RetrievalSeconds  float64 `json:"retrieval_seconds"`
	GenerationTotal   uint64  `json:"generation_total"`
	GenerationErrors  uint64  `json:"generation_errors"`
	GenerationRetries uint64  `json:"generation_retries"`
	GenerationSeconds float64 `json:"generation_seconds"`
	JobsEnqueued      uint64  `json:"jobs_enqueued"`
	JobsFailed        uint64  `json:"jobs_failed"`
	AnswersPersisted  uint64  `json:"answers_persisted"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// Stats returns a consistent snapshot of the counters.
func (m *AnswerMetrics) Stats() Snapshot {
	hits := atomic.LoadUint64(&m.queriesCacheHits)
	misses := atomic.LoadUint64(&m.queriesCacheMisses)
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	m.durationMu.Lock()
	retrievalSeconds := m.retrievalDuration
	generationSeconds := m.generationDuration
	m.durationMu.Unlock()

	return Snapshot{
		QueriesTotal:      atomic.LoadUint64(&m.queriesTotal),
		QueriesBlocked:    atomic.LoadUint64(&m.queriesBlocked),
		QueriesErrors:     atomic.LoadUint64(&m.queriesErrors),
		CacheHits:         hits,
		CacheMisses:       misses,
		CacheHitRate:      hitRate,
		RetrievalTotal:    atomic.LoadUint64(&m.retrievalTotal),
		RetrievalErrors:   atomic.LoadUint64(&m.retrievalErrors),
		RetrievalSeconds:  retrievalSeconds,
		GenerationTotal:   atomic.LoadUint64(&m.generationTotal),
		GenerationErrors:  atomic.LoadUint64(&m.generationErrors),
		GenerationRetries: atomic.LoadUint64(&m.generationRetries),
		GenerationSeconds: generationSeconds,
		JobsEnqueued:      atomic.LoadUint64(&m.jobsEnqueued),
		JobsFailed:        atomic.LoadUint64(&m.jobsFailed),
		AnswersPersisted:  atomic.LoadUint64(&m.answersPersist),
		UptimeSeconds:     time.Since(m.startTime).Seconds(),
	}
}
