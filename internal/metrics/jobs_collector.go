package metrics

import (
	"sync"

	"github.com/osvaldoandrade/formq/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// JobCounter reports how many jobs are currently held in each status.
type JobCounter interface {
	Counts() map[domain.JobStatus]int
}

type jobsCollector struct {
	src JobCounter

	jobsDesc *prometheus.Desc
}

func newJobsCollector(src JobCounter) *jobsCollector {
	return &jobsCollector{
		src: src,
		jobsDesc: prometheus.NewDesc(
			"formq_jobs",
			"Jobs held in the in-process job store, by status.",
			[]string{"status"},
			nil,
		),
	}
}

func (c *jobsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobsDesc
}

func (c *jobsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.src == nil {
		return
	}
	counts := c.src.Counts()
	for _, st := range []domain.JobStatus{domain.JobPending, domain.JobProcessing, domain.JobCompleted} {
		emitGauge(ch, c.jobsDesc, float64(counts[st]), string(st))
	}
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerJobsCollectorOnce sync.Once

func RegisterJobsCollector(src JobCounter) {
	registerJobsCollectorOnce.Do(func() {
		prometheus.MustRegister(newJobsCollector(src))
	})
}
