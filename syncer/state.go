package syncer

import (
	"maps"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pinmesh/pinmesh/common/types"
	"github.com/pinmesh/pinmesh/p2p"
)

// Traffic counts protocol messages and record payloads.
type Traffic struct {
	MessagesSent     map[p2p.MessageKind]uint64 `json:"messages_sent"`
	MessagesReceived map[p2p.MessageKind]uint64 `json:"messages_received"`
	RecordsSent      uint64                     `json:"records_sent"`
	RecordsReceived  uint64                     `json:"records_received"`
}

func newTraffic() Traffic {
	return Traffic{
		MessagesSent:     map[p2p.MessageKind]uint64{},
		MessagesReceived: map[p2p.MessageKind]uint64{},
	}
}

func (tr *Traffic) sent(kind p2p.MessageKind, records int) {
	tr.MessagesSent[kind]++
	tr.RecordsSent += uint64(records)
}

func (tr *Traffic) received(kind p2p.MessageKind, records int) {
	tr.MessagesReceived[kind]++
	tr.RecordsReceived += uint64(records)
}

func (tr *Traffic) reset() {
	clear(tr.MessagesSent)
	clear(tr.MessagesReceived)
	tr.RecordsSent = 0
	tr.RecordsReceived = 0
}

func (tr Traffic) clone() Traffic {
	return Traffic{
		MessagesSent:     maps.Clone(tr.MessagesSent),
		MessagesReceived: maps.Clone(tr.MessagesReceived),
		RecordsSent:      tr.RecordsSent,
		RecordsReceived:  tr.RecordsReceived,
	}
}

// Stats is a snapshot of global and per-peer traffic.
type Stats struct {
	Global Traffic              `json:"global"`
	Peers  map[p2p.Peer]Traffic `json:"peers"`
}

// peerState is owned by the Syncer and guarded by its mutex. A flag is
// cleared whenever the handle backing it is cleared.
type peerState struct {
	lastActivity      time.Time
	syncInProgress    bool
	processingRecords bool

	syncTimeout     clockwork.Timer
	completionCheck clockwork.Timer
	rootRecompute   clockwork.Timer

	batchArrivals []time.Time
	lastRootSent  types.Hash32
	sentRoot      bool

	traffic Traffic
}

func newPeerState(now time.Time) *peerState {
	return &peerState{
		lastActivity: now,
		traffic:      newTraffic(),
	}
}

func stopTimer(t *clockwork.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// cancelTimers stops every armed timer and clears the matching flags.
func (ps *peerState) cancelTimers() {
	stopTimer(&ps.syncTimeout)
	stopTimer(&ps.completionCheck)
	stopTimer(&ps.rootRecompute)
	ps.syncInProgress = false
	ps.processingRecords = false
}
