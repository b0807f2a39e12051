package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psantana5/gpuslot/internal/job"
	"github.com/psantana5/gpuslot/internal/report"
)

const namespace = "gpuslot"

// Metrics holds the scheduler's prometheus collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	jobs       *prometheus.GaugeVec
	gpuHeld    *prometheus.GaugeVec
	heldGPUs   prometheus.Gauge
	freeGPUs   prometheus.Gauge
	cap        prometheus.Gauge
	iteration  prometheus.Gauge
	launchFail prometheus.Gauge
	submitted  prometheus.Counter
	completed  prometheus.Counter
	died       prometheus.Counter
	jobSeconds prometheus.Histogram

	knownGPUs map[int]bool
}

// New creates and registers every collector. runID is attached as a
// constant label so textfile exports of concurrent runs don't collide.
func New(runID string) *Metrics {
	labels := prometheus.Labels{}
	if runID != "" {
		labels["run_id"] = runID
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "jobs",
			Help:        "Number of jobs by state",
			ConstLabels: labels,
		}, []string{"state"}),
		gpuHeld: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "gpu_held",
			Help:        "1 if this run holds the device, 0 otherwise",
			ConstLabels: labels,
		}, []string{"gpu"}),
		heldGPUs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "held_gpus",
			Help:        "Devices held by running jobs of this run",
			ConstLabels: labels,
		}),
		freeGPUs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "free_gpus",
			Help:        "Devices free and not held at the last iteration",
			ConstLabels: labels,
		}),
		cap: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "concurrency_cap",
			Help:        "Maximum devices this run may hold at once",
			ConstLabels: labels,
		}),
		iteration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "iteration",
			Help:        "Scheduler iterations completed",
			ConstLabels: labels,
		}),
		launchFail: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "launch_failures",
			Help:        "Session launches the session tool did not acknowledge",
			ConstLabels: labels,
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "jobs_submitted_total",
			Help:        "Jobs submitted to a session",
			ConstLabels: labels,
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "jobs_completed_total",
			Help:        "Jobs whose session ended",
			ConstLabels: labels,
		}),
		died: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "jobs_stderr_total",
			Help:        "Jobs that wrote to their error output",
			ConstLabels: labels,
		}),
		jobSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "job_duration_seconds",
			Help:        "Wall time from submission to session end",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(10, 3, 10),
		}),
		knownGPUs: make(map[int]bool),
	}

	m.registry.MustRegister(
		m.jobs, m.gpuHeld, m.heldGPUs, m.freeGPUs, m.cap, m.iteration, m.launchFail,
		m.submitted, m.completed, m.died, m.jobSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, s := range []job.State{job.Pending, job.Running, job.Done} {
		m.jobs.WithLabelValues(s.String()).Set(0)
	}
	return m
}

// Registry exposes the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// JobSubmitted counts a submission
func (m *Metrics) JobSubmitted(*job.Job) {
	m.submitted.Inc()
}

// JobDone counts a completion and records its duration
func (m *Metrics) JobDone(j *job.Job) {
	m.completed.Inc()
	m.jobSeconds.Observe(j.Duration().Seconds())
}

// JobDied counts a job that wrote to its error output
func (m *Metrics) JobDied(string) {
	m.died.Inc()
}

// Hooks wires the counters into a job runtime
func (m *Metrics) Hooks(rt *job.Runtime) {
	rt.OnSubmit = m.JobSubmitted
	rt.OnDone = m.JobDone
	rt.OnDied = m.JobDied
}

// Report updates the gauges from a snapshot. Report is only called from
// the scheduler goroutine.
func (m *Metrics) Report(s report.Snapshot) {
	m.iteration.Set(float64(s.Iteration))
	m.launchFail.Set(float64(s.LaunchFailures))
	m.cap.Set(float64(s.Cap))
	m.heldGPUs.Set(float64(len(s.Held)))
	m.freeGPUs.Set(float64(len(s.Free)))

	for _, st := range []job.State{job.Pending, job.Running, job.Done} {
		m.jobs.WithLabelValues(st.String()).Set(float64(s.Count(st)))
	}

	held := make(map[int]bool, len(s.Held))
	for _, id := range s.Held {
		held[id] = true
		m.knownGPUs[id] = true
	}
	for _, id := range s.Free {
		m.knownGPUs[id] = true
	}
	for id := range m.knownGPUs {
		v := 0.0
		if held[id] {
			v = 1
		}
		m.gpuHeld.WithLabelValues(strconv.Itoa(id)).Set(v)
	}
}
