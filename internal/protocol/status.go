// Package protocol defines the closed status and type enumerations shared by
// every request variant and by the processor's tracking surface.
package protocol

// Status is the top-level state of a request.
type Status int

const (
	StatusCreated Status = iota
	StatusQueued
	StatusInProgress
	StatusIsCancelling
	StatusSuccess
	StatusFailed
	StatusCancelled
	StatusBad
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "CREATED"
	case StatusQueued:
		return "QUEUED"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusIsCancelling:
		return "IS_CANCELLING"
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailed:
		return "FAILED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusBad:
		return "BAD"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether s is one of the four states from which no
// further transition is permitted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled, StatusBad:
		return true
	default:
		return false
	}
}

// ExtendedStatus refines a FAILED or BAD status. The zero value NONE is only
// valid alongside a non-failure Status.
type ExtendedStatus int

const (
	ExtNone ExtendedStatus = iota
	ExtInvalidParam
	ExtInvalidID
	ExtNoSuchTable
	ExtNotPartitionedTable
	ExtNoSuchPartition
	ExtDuplicateKey
	ExtCantDropKey
	ExtMysqlError
	ExtLargeResult
	ExtNoFolder
	ExtNoFile
	ExtNoSpace
	ExtFileStat
	ExtFileSize
	ExtFileMtime
	ExtFileCreate
	ExtFileOpen
	ExtFileRead
	ExtFileWrite
	ExtFileCopy
	ExtFileRename
	ExtFileDelete
	ExtFileResize
	ExtFolderStat
	ExtFolderCreate
	ExtFolderRead
	ExtFileRemoteOpen
	ExtSpaceRequest
	ExtFileExists
	ExtCancelled
	ExtTimeout
	ExtOtherException
	ExtMultiple
	ExtFileROpen
)

func (e ExtendedStatus) String() string {
	names := map[ExtendedStatus]string{
		ExtNone:                "NONE",
		ExtInvalidParam:        "INVALID_PARAM",
		ExtInvalidID:           "INVALID_ID",
		ExtNoSuchTable:         "NO_SUCH_TABLE",
		ExtNotPartitionedTable: "NOT_PARTITIONED_TABLE",
		ExtNoSuchPartition:     "NO_SUCH_PARTITION",
		ExtDuplicateKey:        "DUPLICATE_KEY",
		ExtCantDropKey:         "CANT_DROP_KEY",
		ExtMysqlError:          "MYSQL_ERROR",
		ExtLargeResult:         "LARGE_RESULT",
		ExtNoFolder:            "NO_FOLDER",
		ExtNoFile:              "NO_FILE",
		ExtNoSpace:             "NO_SPACE",
		ExtFileStat:            "FILE_STAT",
		ExtFileSize:            "FILE_SIZE",
		ExtFileMtime:           "FILE_MTIME",
		ExtFileCreate:          "FILE_CREATE",
		ExtFileOpen:            "FILE_OPEN",
		ExtFileRead:            "FILE_READ",
		ExtFileWrite:           "FILE_WRITE",
		ExtFileCopy:            "FILE_COPY",
		ExtFileRename:          "FILE_RENAME",
		ExtFileDelete:          "FILE_DELETE",
		ExtFileResize:          "FILE_RESIZE",
		ExtFolderStat:          "FOLDER_STAT",
		ExtFolderCreate:        "FOLDER_CREATE",
		ExtFolderRead:          "FOLDER_READ",
		ExtFileRemoteOpen:      "FILE_REMOTE_OPEN",
		ExtSpaceRequest:        "SPACE_REQUEST",
		ExtFileExists:          "FILE_EXISTS",
		ExtCancelled:           "CANCELLED",
		ExtTimeout:             "TIMEOUT",
		ExtOtherException:      "OTHER_EXCEPTION",
		ExtMultiple:            "MULTIPLE",
		ExtFileROpen:           "FILE_ROPEN",
	}
	if n, ok := names[e]; ok {
		return n
	}
	return "UNKNOWN"
}

// RequestType identifies which concrete request variant a submission
// carries.
type RequestType int

const (
	TypeEcho RequestType = iota
	TypeReplicaCreate
	TypeReplicaDelete
	TypeReplicaFind
	TypeReplicaFindAll
	TypeSQL
	TypeDirectorIndex
)

func (t RequestType) String() string {
	switch t {
	case TypeEcho:
		return "ECHO"
	case TypeReplicaCreate:
		return "REPLICA_CREATE"
	case TypeReplicaDelete:
		return "REPLICA_DELETE"
	case TypeReplicaFind:
		return "REPLICA_FIND"
	case TypeReplicaFindAll:
		return "REPLICA_FIND_ALL"
	case TypeSQL:
		return "SQL"
	case TypeDirectorIndex:
		return "DIRECTOR_INDEX"
	default:
		return "UNKNOWN"
	}
}

// ReplicaStatus is the completeness state of a chunk replica.
type ReplicaStatus int

const (
	ReplicaComplete ReplicaStatus = iota
	ReplicaIncomplete
	ReplicaNotFound
)

func (s ReplicaStatus) String() string {
	switch s {
	case ReplicaComplete:
		return "COMPLETE"
	case ReplicaIncomplete:
		return "INCOMPLETE"
	case ReplicaNotFound:
		return "NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}

// Performance carries the start/finish timestamps (microseconds since the
// Unix epoch) of a request's execution.
type Performance struct {
	StartTimeUsec  int64 `json:"start_time_usec"`
	FinishTimeUsec int64 `json:"finish_time_usec"`
}
