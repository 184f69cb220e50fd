// Package fake implements an in-memory WebHDFS cluster: a namespace plus a
// namenode handler that answers transfers with redirects and a datanode
// handler that moves the bytes. It backs tests, examples and the sandbox.
package fake

import (
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Ratio1/webhdfs_sdk_go/pkg/webhdfs"
)

// Namespace errors. Handlers map them onto RemoteException responses.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrNotDirectory  = errors.New("not a directory")
	ErrIsDirectory   = errors.New("is a directory")
	ErrNotEmpty      = errors.New("directory is not empty")
	ErrInvalidPath   = errors.New("invalid path")
)

const defaultBlockSize = 128 << 20

type node struct {
	dir         bool
	data        []byte
	owner       string
	group       string
	permission  string
	replication int
	fileID      int64
	modTime     time.Time
	accessTime  time.Time
}

// FS is a thread-safe in-memory namespace rooted at "/".
type FS struct {
	mu     sync.RWMutex
	nodes  map[string]*node
	nextID int64
	now    func() time.Time
}

// NewFS returns a namespace holding only the root directory.
func NewFS() *FS {
	fs := &FS{
		nodes:  make(map[string]*node),
		nextID: 16385,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	fs.nodes["/"] = fs.newNode(true, "hdfs", nil, 0)
	return fs
}

// SeedEntry describes a file or directory loaded with Seed.
type SeedEntry struct {
	Path  string `json:"path"`
	Dir   bool   `json:"dir,omitempty"`
	Data  string `json:"data,omitempty"`
	Owner string `json:"owner,omitempty"`
}

// Seed creates the given entries, overwriting files that already exist.
func (fs *FS) Seed(entries []SeedEntry) error {
	for _, e := range entries {
		owner := e.Owner
		if owner == "" {
			owner = "hdfs"
		}
		var err error
		if e.Dir {
			err = fs.Mkdirs(e.Path, owner)
		} else {
			err = fs.Create(e.Path, []byte(e.Data), true, 1, owner)
		}
		if err != nil {
			return errors.Wrapf(err, "seed %s", e.Path)
		}
	}
	return nil
}

// Mkdirs creates p and any missing parents. It succeeds if p already is a
// directory.
func (fs *FS) Mkdirs(p, owner string) error {
	norm, err := normalizePath(p)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.mkdirsLocked(norm, owner)
}

func (fs *FS) mkdirsLocked(norm, owner string) error {
	if n, ok := fs.nodes[norm]; ok {
		if !n.dir {
			return errors.Wrapf(ErrAlreadyExists, "Parent path is not a directory: %s", norm)
		}
		return nil
	}
	if err := fs.mkdirsLocked(path.Dir(norm), owner); err != nil {
		return err
	}
	fs.nodes[norm] = fs.newNode(true, owner, nil, 0)
	fs.touchParentLocked(norm)
	return nil
}

// Create writes a new file, creating missing parent directories.
func (fs *FS) Create(p string, data []byte, overwrite bool, replication int, owner string) error {
	norm, err := normalizePath(p)
	if err != nil {
		return err
	}
	if norm == "/" {
		return errors.Wrapf(ErrIsDirectory, "Cannot create file %s", norm)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkCreateLocked(norm, overwrite); err != nil {
		return err
	}
	if err := fs.mkdirsLocked(path.Dir(norm), owner); err != nil {
		return err
	}
	if replication <= 0 {
		replication = 1
	}
	fs.nodes[norm] = fs.newNode(false, owner, data, replication)
	fs.touchParentLocked(norm)
	return nil
}

// CheckCreate reports the error Create would return for p without writing.
func (fs *FS) CheckCreate(p string, overwrite bool) error {
	norm, err := normalizePath(p)
	if err != nil {
		return err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.checkCreateLocked(norm, overwrite)
}

func (fs *FS) checkCreateLocked(norm string, overwrite bool) error {
	n, ok := fs.nodes[norm]
	if !ok {
		return nil
	}
	if n.dir {
		return errors.Wrapf(ErrAlreadyExists, "%s already exists as a directory", norm)
	}
	if !overwrite {
		return errors.Wrapf(ErrAlreadyExists, "%s for client already exists", norm)
	}
	return nil
}

// Append adds data to the end of an existing file.
func (fs *FS) Append(p string, data []byte) error {
	norm, err := normalizePath(p)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.fileLocked(norm)
	if err != nil {
		return err
	}
	n.data = append(n.data, data...)
	n.modTime = fs.now()
	return nil
}

// Open returns a copy of the file contents.
func (fs *FS) Open(p string) ([]byte, error) {
	norm, err := normalizePath(p)
	if err != nil {
		return nil, err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.fileLocked(norm)
	if err != nil {
		return nil, err
	}
	n.accessTime = fs.now()
	return append([]byte(nil), n.data...), nil
}

// Delete removes p. It reports false, without error, when p does not exist.
func (fs *FS) Delete(p string, recursive bool) (bool, error) {
	norm, err := normalizePath(p)
	if err != nil {
		return false, err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[norm]
	if !ok {
		return false, nil
	}
	if norm == "/" {
		return false, errors.Wrap(ErrInvalidPath, "Cannot delete the root directory")
	}
	children := fs.childrenLocked(norm)
	if n.dir && len(children) > 0 && !recursive {
		return false, errors.Wrapf(ErrNotEmpty, "`%s is non empty': Directory is not empty", norm)
	}
	prefix := norm + "/"
	for key := range fs.nodes {
		if key == norm || strings.HasPrefix(key, prefix) {
			delete(fs.nodes, key)
		}
	}
	fs.touchParentLocked(norm)
	return true, nil
}

// Status returns the status record of p. PathSuffix is empty, as in
// GETFILESTATUS responses.
func (fs *FS) Status(p string) (webhdfs.FileStatus, error) {
	norm, err := normalizePath(p)
	if err != nil {
		return webhdfs.FileStatus{}, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n, ok := fs.nodes[norm]
	if !ok {
		return webhdfs.FileStatus{}, errors.Wrapf(ErrNotFound, "File does not exist: %s", norm)
	}
	return fs.statusLocked(norm, n, ""), nil
}

// List returns the children of a directory sorted by name, or the status of
// p itself when p is a file.
func (fs *FS) List(p string) ([]webhdfs.FileStatus, error) {
	norm, err := normalizePath(p)
	if err != nil {
		return nil, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n, ok := fs.nodes[norm]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "File %s does not exist.", norm)
	}
	if !n.dir {
		return []webhdfs.FileStatus{fs.statusLocked(norm, n, "")}, nil
	}
	children := fs.childrenLocked(norm)
	out := make([]webhdfs.FileStatus, 0, len(children))
	for _, child := range children {
		out = append(out, fs.statusLocked(child, fs.nodes[child], path.Base(child)))
	}
	return out, nil
}

func (fs *FS) fileLocked(norm string) (*node, error) {
	n, ok := fs.nodes[norm]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "File does not exist: %s", norm)
	}
	if n.dir {
		return nil, errors.Wrapf(ErrIsDirectory, "Path is not a file: %s", norm)
	}
	return n, nil
}

func (fs *FS) childrenLocked(dir string) []string {
	prefix := dir + "/"
	if dir == "/" {
		prefix = "/"
	}
	var children []string
	for key := range fs.nodes {
		if key == dir || !strings.HasPrefix(key, prefix) {
			continue
		}
		if strings.Contains(key[len(prefix):], "/") {
			continue
		}
		children = append(children, key)
	}
	sort.Strings(children)
	return children
}

func (fs *FS) touchParentLocked(norm string) {
	if parent, ok := fs.nodes[path.Dir(norm)]; ok && norm != "/" {
		parent.modTime = fs.now()
	}
}

func (fs *FS) newNode(dir bool, owner string, data []byte, replication int) *node {
	fs.nextID++
	now := fs.now()
	n := &node{
		dir:         dir,
		owner:       owner,
		group:       "supergroup",
		permission:  "644",
		replication: replication,
		fileID:      fs.nextID,
		modTime:     now,
		accessTime:  now,
	}
	if dir {
		n.permission = "755"
		n.accessTime = time.Time{}
	} else {
		n.data = append([]byte(nil), data...)
	}
	return n
}

func (fs *FS) statusLocked(norm string, n *node, suffix string) webhdfs.FileStatus {
	st := webhdfs.FileStatus{
		FileID:           n.fileID,
		Group:            n.group,
		ModificationTime: n.modTime.UnixMilli(),
		Owner:            n.owner,
		PathSuffix:       suffix,
		Permission:       n.permission,
		Replication:      n.replication,
		Type:             webhdfs.TypeFile,
	}
	if !n.accessTime.IsZero() {
		st.AccessTime = n.accessTime.UnixMilli()
	}
	if n.dir {
		st.Type = webhdfs.TypeDirectory
		st.ChildrenNum = len(fs.childrenLocked(norm))
		return st
	}
	st.Length = int64(len(n.data))
	st.BlockSize = defaultBlockSize
	return st
}

func normalizePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", errors.Wrap(ErrInvalidPath, "path is required")
	}
	if !strings.HasPrefix(p, "/") {
		return "", errors.Wrapf(ErrInvalidPath, "Invalid path name %s", p)
	}
	return path.Clean(p), nil
}
