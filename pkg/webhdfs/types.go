package webhdfs

import "time"

// Operation is a WebHDFS operation code sent as the op query parameter.
type Operation string

const (
	OpMkdirs           Operation = "MKDIRS"
	OpDelete           Operation = "DELETE"
	OpCreate           Operation = "CREATE"
	OpAppend           Operation = "APPEND"
	OpOpen             Operation = "OPEN"
	OpGetFileStatus    Operation = "GETFILESTATUS"
	OpListStatus       Operation = "LISTSTATUS"
	OpGetHomeDirectory Operation = "GETHOMEDIRECTORY"
)

// File types reported in FileStatus.Type.
const (
	TypeFile      = "FILE"
	TypeDirectory = "DIRECTORY"
	TypeSymlink   = "SYMLINK"
)

// FileStatus describes one remote path as reported by GETFILESTATUS and
// LISTSTATUS. Times are milliseconds since the Unix epoch.
type FileStatus struct {
	AccessTime       int64  `json:"accessTime"`
	BlockSize        int64  `json:"blockSize"`
	ChildrenNum      int    `json:"childrenNum"`
	FileID           int64  `json:"fileId"`
	Group            string `json:"group"`
	Length           int64  `json:"length"`
	ModificationTime int64  `json:"modificationTime"`
	Owner            string `json:"owner"`
	PathSuffix       string `json:"pathSuffix"`
	Permission       string `json:"permission"`
	Replication      int    `json:"replication"`
	StoragePolicy    int    `json:"storagePolicy"`
	Symlink          string `json:"symlink,omitempty"`
	Type             string `json:"type"`
}

// IsDir reports whether the status describes a directory.
func (s FileStatus) IsDir() bool { return s.Type == TypeDirectory }

// IsFile reports whether the status describes a regular file.
func (s FileStatus) IsFile() bool { return s.Type == TypeFile }

// ModTime converts ModificationTime to a time.Time.
func (s FileStatus) ModTime() time.Time { return time.UnixMilli(s.ModificationTime) }

// UploadOptions control CREATE semantics. A nil *UploadOptions means
// replication 1 and no overwrite.
type UploadOptions struct {
	Replication int
	Overwrite   bool
}

// State is a step of the two-hop transfer protocol.
type State int

const (
	StateInit State = iota
	StateCoordinatorRequestSent
	StateRedirectReceived
	StateTransferConnectionOpen
	StateStreaming
	StateComplete
	StateFailed
)

var stateNames = [...]string{
	StateInit:                   "INIT",
	StateCoordinatorRequestSent: "COORDINATOR_REQUEST_SENT",
	StateRedirectReceived:       "REDIRECT_RECEIVED",
	StateTransferConnectionOpen: "TRANSFER_CONNECTION_OPEN",
	StateStreaming:              "STREAMING",
	StateComplete:               "COMPLETE",
	StateFailed:                 "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions can follow s.
func (s State) Terminal() bool { return s == StateComplete || s == StateFailed }

// TransferEvent is delivered to an observer on every state transition of a
// CREATE, APPEND or OPEN call. Err is set on the transition to StateFailed.
type TransferEvent struct {
	Op   Operation
	Path string
	From State
	To   State
	Err  error
}
