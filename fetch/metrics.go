package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "pinmesh"
	subsystem = "fetch"
)

var (
	batchesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "batches_sent",
		Help:      "Number of record-request batches sent.",
	})
	recordsRequested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "records_requested",
		Help:      "Number of record ids requested.",
	})
)
