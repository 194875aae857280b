package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	jobsClaimedTotal     atomic.Uint64
	jobsSucceededTotal   atomic.Uint64
	jobsFailedTotal      atomic.Uint64
	jobsRequeuedTotal    atomic.Uint64
	jobsStaleFailedTotal atomic.Uint64
	panicsTotal          atomic.Uint64

	jobDuration = newHistogram([]float64{250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000, 300000})
)

// IncJobsClaimed increments the claimed counter.
func IncJobsClaimed() {
	jobsClaimedTotal.Add(1)
}

// IncJobsSucceeded increments the succeeded counter.
func IncJobsSucceeded() {
	jobsSucceededTotal.Add(1)
}

// IncJobsFailed increments the failed counter.
func IncJobsFailed() {
	jobsFailedTotal.Add(1)
}

// IncJobsRequeued increments the transient-requeue counter.
func IncJobsRequeued() {
	jobsRequeuedTotal.Add(1)
}

// IncJobsStaleFailed increments the janitor-failure counter.
func IncJobsStaleFailed() {
	jobsStaleFailedTotal.Add(1)
}

// IncPanics increments the recovered-panic counter.
func IncPanics() {
	panicsTotal.Add(1)
}

// ObserveJobDurationMs records a job duration in milliseconds.
func ObserveJobDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	jobDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "statuscert_jobs_claimed_total", "Total jobs claimed by workers", jobsClaimedTotal.Load())
	writeCounter(&buf, "statuscert_jobs_succeeded_total", "Total jobs succeeded", jobsSucceededTotal.Load())
	writeCounter(&buf, "statuscert_jobs_failed_total", "Total jobs failed permanently", jobsFailedTotal.Load())
	writeCounter(&buf, "statuscert_jobs_requeued_total", "Total jobs requeued after transient failures", jobsRequeuedTotal.Load())
	writeCounter(&buf, "statuscert_jobs_stale_failed_total", "Total stale RUNNING jobs failed by the janitor", jobsStaleFailedTotal.Load())
	writeCounter(&buf, "statuscert_panics_total", "Total panics recovered by HTTP middleware", panicsTotal.Load())
	writeHistogram(&buf, "statuscert_job_duration_ms", "Job duration in milliseconds", jobDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
