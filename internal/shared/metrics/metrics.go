package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vibe"

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_total",
		Help:      "Analysis submissions by resolved identity kind.",
	}, []string{"identity_kind"})

	submissionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "submission_duration_seconds",
		Help:      "Time spent handling an analysis submission.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	claimOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claim_outcomes_total",
		Help:      "Claim attempts by terminal outcome.",
	}, []string{"outcome"})

	phraseFlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "phrase_flushes_total",
		Help:      "Phrase buffer flushes started.",
	})

	phraseGroupFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "phrase_group_failures_total",
		Help:      "Phrase groups whose delta upsert failed.",
	})

	phraseBufferedItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "phrase_buffered_items",
		Help:      "Phrase deltas waiting in this instance's buffer.",
	})

	queueMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_messages_total",
		Help:      "Phrase batch queue messages by outcome.",
	}, []string{"outcome"})

	statsRecomputesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stats_recomputes_total",
		Help:      "Exact recomputes of the global summary by result.",
	}, []string{"result"})
)

// IncSubmission counts a submission for the given identity kind.
func IncSubmission(identityKind string) {
	if identityKind == "" {
		identityKind = "new"
	}
	submissionsTotal.WithLabelValues(identityKind).Inc()
}

// ObserveSubmissionDuration records how long a submission took.
func ObserveSubmissionDuration(d time.Duration) {
	if d < 0 {
		d = 0
	}
	submissionDuration.Observe(d.Seconds())
}

// IncClaimOutcome counts a claim outcome (merged, nothing_to_migrate, rejected, retryable).
func IncClaimOutcome(outcome string) {
	claimOutcomesTotal.WithLabelValues(outcome).Inc()
}

func IncPhraseFlush() { phraseFlushesTotal.Inc() }

func IncPhraseGroupFailure() { phraseGroupFailuresTotal.Inc() }

// SetPhraseBufferedItems reports the current buffer depth.
func SetPhraseBufferedItems(n int) {
	phraseBufferedItems.Set(float64(n))
}

// IncStatsRecompute counts a recompute with result "ok" or "error".
func IncStatsRecompute(result string) {
	statsRecomputesTotal.WithLabelValues(result).Inc()
}

// IncQueueMessage counts a queue message outcome (sent, received, completed, failed, dropped).
func IncQueueMessage(outcome string) {
	queueMessagesTotal.WithLabelValues(outcome).Inc()
}

// Handler exposes the default registry in Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
