package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ecochain/ecochain/internal/emission"
)

var (
	ecoRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecochain_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	ecoRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ecochain_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ecoTokensIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecochain_tokens_issued_total",
		Help: "Total tokens issued by business type.",
	}, []string{"business_type"})

	ecoReducedKgTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ecochain_emissions_reduced_kg_total",
		Help: "Sum of emissions_reduced_kg over issued tokens.",
	})

	ecoVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecochain_token_verifications_total",
		Help: "Total token verifications by result.",
	}, []string{"result"})

	ecoLedgerAppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ecochain_ledger_appends_total",
		Help: "Total ledger blocks appended.",
	})

	ecoIssuanceRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ecochain_issuance_rejected_total",
		Help: "Total issuance requests refused by screening.",
	})

	ecoWebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecochain_webhook_deliveries_total",
		Help: "Total webhook delivery attempts by result.",
	}, []string{"result"})

	ecoChainValid = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ecochain_chain_valid",
		Help: "1 if the last ledger integrity check passed, 0 otherwise.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		ecoRequestsTotal.WithLabelValues(method, path, status).Inc()
		ecoRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// otherBusinessType labels tokens whose business type has no baseline of its
// own. The label set stays bounded by emission.BusinessTypes.
const otherBusinessType = "other"

var knownBusinessTypes = func() map[string]bool {
	m := make(map[string]bool)
	for _, bt := range emission.BusinessTypes() {
		m[bt] = true
	}
	return m
}()

func businessTypeLabel(businessType string) string {
	if knownBusinessTypes[businessType] {
		return businessType
	}
	return otherBusinessType
}

// RecordTokenIssued records an issued token and its reduction.
func RecordTokenIssued(businessType string, reducedKg float64) {
	ecoTokensIssuedTotal.WithLabelValues(businessTypeLabel(businessType)).Inc()
	if reducedKg > 0 {
		ecoReducedKgTotal.Add(reducedKg)
	}
}

// RecordVerification records a token verification outcome.
func RecordVerification(verified bool) {
	if verified {
		ecoVerificationsTotal.WithLabelValues("verified").Inc()
	} else {
		ecoVerificationsTotal.WithLabelValues("rejected").Inc()
	}
}

// RecordLedgerAppend records a ledger block append.
func RecordLedgerAppend() {
	ecoLedgerAppendsTotal.Inc()
}

// SetChainValid records the result of the latest integrity check.
func SetChainValid(valid bool) {
	if valid {
		ecoChainValid.Set(1)
	} else {
		ecoChainValid.Set(0)
	}
}

// RecordIssuanceRejected records a claim refused by screening.
func RecordIssuanceRejected() {
	ecoIssuanceRejectedTotal.Inc()
}

// RecordWebhookDelivery records a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		ecoWebhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		ecoWebhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}
