package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "pinmesh"
	subsystem = "syncer"
)

var (
	connectedPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "connected_peers",
		Help:      "Number of peers currently in the room.",
	})
	syncsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "syncs_started",
		Help:      "Number of syncs initiated after a root mismatch.",
	})
	syncsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "syncs_completed",
		Help:      "Number of syncs completed by a clean completion check or an equal root.",
	})
	syncsTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "syncs_timed_out",
		Help:      "Number of syncs force-cancelled by the inactivity timeout.",
	})
	recordsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "records_ingested",
		Help:      "Number of records admitted and persisted.",
	})
	recordsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "records_rejected",
		Help:      "Number of records rejected by moderation.",
	})
	protocolViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "protocol_violations",
		Help:      "Number of inbound messages dropped as malformed.",
	})
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "messages_received",
		Help:      "Inbound protocol messages by kind.",
	}, []string{"kind"})
	messagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "messages_sent",
		Help:      "Outbound protocol messages by kind.",
	}, []string{"kind"})
)
