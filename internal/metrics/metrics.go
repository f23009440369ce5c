package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Scans = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classattend", Name: "scans_total", Help: "Attendance mark attempts by outcome",
	}, []string{"outcome"})
	FaceRequest = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "classattend", Name: "face_request_seconds", Help: "Face service prediction latency",
		Buckets: prometheus.DefBuckets,
	})
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "classattend", Name: "rate_limited_total", Help: "Requests rejected by the rate limiter",
	})
	ScanEventsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "classattend", Name: "scan_events_written_total", Help: "Scan audit rows persisted",
	})
	DBPing = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "classattend", Name: "db_ping_seconds", Help: "DB ping latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(Scans, FaceRequest, RateLimited, ScanEventsWritten, DBPing)
}

func Handler() http.Handler { return promhttp.Handler() }

func ObserveScan(outcome string) { Scans.WithLabelValues(outcome).Inc() }

func ObserveFaceRequest(d time.Duration) { FaceRequest.Observe(d.Seconds()) }

func ObserveDBPing(d time.Duration) { DBPing.Observe(d.Seconds()) }
