package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	Schedules = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_schedules_total", Help: "Campaign schedule attempts"},
		[]string{"mode", "result"},
	)
	JobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_jobs_enqueued_total", Help: "Queue jobs created"},
		[]string{"channel"},
	)
	InvalidContacts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_invalid_contacts_total", Help: "Recipients enqueued without usable contact data"},
		[]string{"channel"},
	)
	Claimed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "outreach_jobs_claimed_total", Help: "Jobs claimed by dispatchers"},
	)
	Dispatch = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_dispatch_total", Help: "Dispatch outcomes"},
		[]string{"channel", "result"},
	)
	SendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "outreach_send_latency_seconds", Help: "Channel sender latency"},
		[]string{"channel"},
	)
	Maintenance = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_maintenance_rows_total", Help: "Rows affected by maintenance sweeps"},
		[]string{"job", "result"},
	)
	Reports = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_delivery_reports_total", Help: "Delivery reports processed"},
		[]string{"result"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, Schedules, JobsEnqueued, InvalidContacts, Claimed,
		Dispatch, SendLatency, Maintenance, Reports)
}
