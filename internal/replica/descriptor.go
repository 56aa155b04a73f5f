// Package replica defines the replica descriptor shared by the
// replica-create, replica-delete, replica-find, and replica-find-all
// requests: one (database, chunk)'s completeness status plus per-file
// transfer bookkeeping.
package replica

import "github.com/lsst-qserv/worker-replicad/internal/protocol"

// FileInfo describes one partitioned file as observed locally or
// transferred from a peer.
type FileInfo struct {
	Name            string `json:"name"`
	Size            int64  `json:"size"`
	MtimeUnix       int64  `json:"mtime"`
	CS              uint64 `json:"cs,omitempty"`
	BeginTransferMs int64  `json:"begin_transfer_time,omitempty"`
	EndTransferMs   int64  `json:"end_transfer_time,omitempty"`
}

// Descriptor is the result payload of every replica-lifecycle request.
type Descriptor struct {
	Worker   string                  `json:"worker"`
	Database string                  `json:"database"`
	Chunk    int                     `json:"chunk"`
	Status   protocol.ReplicaStatus  `json:"status"`
	Files    map[string]FileInfo     `json:"files"`
}

// NewDescriptor builds an empty descriptor for (worker, database, chunk).
func NewDescriptor(worker, database string, chunk int) *Descriptor {
	return &Descriptor{
		Worker:   worker,
		Database: database,
		Chunk:    chunk,
		Status:   protocol.ReplicaNotFound,
		Files:    make(map[string]FileInfo),
	}
}

// SetStatusFromCounts derives COMPLETE/INCOMPLETE/NOT_FOUND from the
// number of files actually present against the number expected.
func (d *Descriptor) SetStatusFromCounts(present, expected int) {
	switch {
	case present == 0:
		d.Status = protocol.ReplicaNotFound
	case present == expected:
		d.Status = protocol.ReplicaComplete
	default:
		d.Status = protocol.ReplicaIncomplete
	}
}
