// Package dispatch turns a submitted request envelope (id, type, priority,
// timeout, type-specific payload) into the concrete request value the
// processor runs. Only replica-create construction varies by transfer
// technology; every other type is built directly from its own package.
package dispatch

import (
	"fmt"
	"time"

	"github.com/lsst-qserv/worker-replicad/internal/catalog"
	"github.com/lsst-qserv/worker-replicad/internal/dbconn"
	"github.com/lsst-qserv/worker-replicad/internal/echorequest"
	"github.com/lsst-qserv/worker-replicad/internal/factory"
	"github.com/lsst-qserv/worker-replicad/internal/indexrequest"
	"github.com/lsst-qserv/worker-replicad/internal/namedmutex"
	"github.com/lsst-qserv/worker-replicad/internal/processor"
	"github.com/lsst-qserv/worker-replicad/internal/protocol"
	"github.com/lsst-qserv/worker-replicad/internal/replicacreate"
	"github.com/lsst-qserv/worker-replicad/internal/replicamaint"
	"github.com/lsst-qserv/worker-replicad/internal/request"
	"github.com/lsst-qserv/worker-replicad/internal/sqlrequest"
)

// Envelope is a submission as it arrives from a caller, before the
// type-specific payload has been unpacked.
type Envelope struct {
	ID         string
	Type       protocol.RequestType
	Priority   int
	TimeoutSec int
	OnExpired  func(id string) `json:"-"`

	Echo           echorequest.Params
	ReplicaCreate  replicacreate.Params
	ReplicaDelete  replicamaint.DeleteParams
	ReplicaFind    replicamaint.FindParams
	ReplicaFindAll replicamaint.FindAllParams
	SQL            sqlrequest.Params
	DirectorIndex  indexrequest.Params
}

// Dispatcher holds everything a concrete request constructor needs beyond
// its own payload: the catalog, the DB pool, the schema-mutex registry,
// the chosen replica-create transfer strategy, and worker identity.
type Dispatcher struct {
	Catalog  *catalog.Catalog
	Pool     *dbconn.Pool
	Mutexes  *namedmutex.Registry
	Strategy factory.TransferStrategy

	WorkerName string
	DataDir    string
	TmpDir     string
	BufSize    int

	DefaultTimeout time.Duration
}

// Build validates and constructs the concrete processor.Request for one
// envelope. Payload validation errors are returned directly to the
// caller and never reach the processor.
func (d *Dispatcher) Build(env Envelope) (processor.Request, error) {
	if env.ID == "" {
		return nil, fmt.Errorf("dispatch: request id is required")
	}
	timeout := d.DefaultTimeout
	if env.TimeoutSec > 0 {
		timeout = time.Duration(env.TimeoutSec) * time.Second
	}
	onExpired := env.OnExpired
	if onExpired == nil {
		onExpired = func(string) {}
	}

	base := request.NewBase(env.ID, env.Type, env.Priority, timeout, onExpired, request.GoPoster{})

	switch env.Type {
	case protocol.TypeEcho:
		return echorequest.New(base, env.Echo), nil

	case protocol.TypeReplicaCreate:
		return replicacreate.New(base, env.ReplicaCreate, d.Catalog, d.Strategy,
			d.Mutexes, d.WorkerName, d.DataDir, d.BufSize), nil

	case protocol.TypeReplicaDelete:
		return replicamaint.NewDelete(base, env.ReplicaDelete, d.Catalog, d.Mutexes,
			d.WorkerName, d.DataDir), nil

	case protocol.TypeReplicaFind:
		return replicamaint.NewFind(base, env.ReplicaFind, d.Catalog, d.WorkerName, d.DataDir), nil

	case protocol.TypeReplicaFindAll:
		return replicamaint.NewFindAll(base, env.ReplicaFindAll, d.Mutexes, d.WorkerName, d.DataDir), nil

	case protocol.TypeSQL:
		return sqlrequest.New(base, env.SQL, d.Pool, d.Mutexes), nil

	case protocol.TypeDirectorIndex:
		return indexrequest.New(base, env.DirectorIndex, d.Catalog, d.Pool, d.TmpDir), nil

	default:
		return nil, fmt.Errorf("dispatch: unknown request type %v", env.Type)
	}
}
