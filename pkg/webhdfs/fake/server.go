package fake

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/pat"
	"github.com/pkg/errors"

	"github.com/Ratio1/webhdfs_sdk_go/internal/hdfsapi"
	"github.com/Ratio1/webhdfs_sdk_go/pkg/webhdfs"
)

const (
	keyPath = ":path"
	route   = webhdfs.ContextRoot + "{path:.*}"

	paramTicket = "ticket"
)

// ticket authorises exactly one datanode request issued by the namenode.
type ticket struct {
	op          webhdfs.Operation
	path        string
	owner       string
	overwrite   bool
	replication int
}

// Cluster couples a namespace with a namenode and a datanode handler. The
// namenode redirects CREATE, APPEND and OPEN to the datanode address set with
// SetDataNodeAddr, attaching a one-shot ticket the datanode redeems.
type Cluster struct {
	fs *FS

	mu           sync.Mutex
	dataNodeAddr string
	tickets      map[string]ticket
}

// NewCluster wraps fs. A nil fs gets a fresh namespace.
func NewCluster(fs *FS) *Cluster {
	if fs == nil {
		fs = NewFS()
	}
	return &Cluster{fs: fs, tickets: make(map[string]ticket)}
}

// FS returns the backing namespace.
func (c *Cluster) FS() *FS { return c.fs }

// SetDataNodeAddr sets the host:port placed in redirect locations.
func (c *Cluster) SetDataNodeAddr(addr string) {
	c.mu.Lock()
	c.dataNodeAddr = strings.TrimPrefix(addr, "http://")
	c.mu.Unlock()
}

// PendingTickets returns the number of issued but unredeemed tickets.
func (c *Cluster) PendingTickets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickets)
}

// NameNode returns the coordinating node handler.
func (c *Cluster) NameNode() http.Handler {
	r := pat.New()
	r.Put(route, c.handleNameNodePut)
	r.Post(route, c.handleNameNodePost)
	r.Get(route, c.handleNameNodeGet)
	r.Delete(route, c.handleNameNodeDelete)
	return r
}

// DataNode returns the target node handler.
func (c *Cluster) DataNode() http.Handler {
	r := pat.New()
	r.Put(route, c.handleDataNodeWrite(webhdfs.OpCreate))
	r.Post(route, c.handleDataNodeWrite(webhdfs.OpAppend))
	r.Get(route, c.handleDataNodeOpen)
	return r
}

func (c *Cluster) handleNameNodePut(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := remotePath(r)
	user := q.Get("user.name")
	switch webhdfs.Operation(q.Get("op")) {
	case webhdfs.OpMkdirs:
		if err := c.fs.Mkdirs(p, user); err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]bool{hdfsapi.KeyBoolean: true})
	case webhdfs.OpCreate:
		overwrite := q.Get("overwrite") == "true"
		replication, err := optionalInt(q.Get("replication"), 1)
		if err != nil {
			respondError(w, errors.Wrapf(ErrInvalidPath, "Invalid value for replication: %s", q.Get("replication")))
			return
		}
		if err := c.fs.CheckCreate(p, overwrite); err != nil {
			respondError(w, err)
			return
		}
		c.redirect(w, r, ticket{op: webhdfs.OpCreate, path: p, owner: user, overwrite: overwrite, replication: replication})
	default:
		respondUnsupported(w, r)
	}
}

func (c *Cluster) handleNameNodePost(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := remotePath(r)
	switch webhdfs.Operation(q.Get("op")) {
	case webhdfs.OpAppend:
		if _, err := c.fs.Status(p); err != nil {
			respondError(w, err)
			return
		}
		c.redirect(w, r, ticket{op: webhdfs.OpAppend, path: p, owner: q.Get("user.name")})
	default:
		respondUnsupported(w, r)
	}
}

func (c *Cluster) handleNameNodeGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := remotePath(r)
	switch webhdfs.Operation(q.Get("op")) {
	case webhdfs.OpOpen:
		st, err := c.fs.Status(p)
		if err != nil {
			respondError(w, err)
			return
		}
		if st.IsDir() {
			respondError(w, errors.Wrapf(ErrIsDirectory, "Path is not a file: %s", p))
			return
		}
		if st.Length == 0 {
			w.WriteHeader(http.StatusOK)
			return
		}
		c.redirect(w, r, ticket{op: webhdfs.OpOpen, path: p, owner: q.Get("user.name")})
	case webhdfs.OpGetFileStatus:
		st, err := c.fs.Status(p)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{hdfsapi.KeyFileStatus: st})
	case webhdfs.OpListStatus:
		list, err := c.fs.List(p)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			hdfsapi.KeyFileStatuses: map[string]any{hdfsapi.KeyFileStatus: list},
		})
	case webhdfs.OpGetHomeDirectory:
		respondJSON(w, http.StatusOK, map[string]string{hdfsapi.KeyPath: "/user/" + q.Get("user.name")})
	default:
		respondUnsupported(w, r)
	}
}

func (c *Cluster) handleNameNodeDelete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if webhdfs.Operation(q.Get("op")) != webhdfs.OpDelete {
		respondUnsupported(w, r)
		return
	}
	deleted, err := c.fs.Delete(remotePath(r), q.Get("recursive") == "true")
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{hdfsapi.KeyBoolean: deleted})
}

// redirect issues a ticket and answers 307 with the datanode location. The
// incoming query string is carried over and the ticket appended.
func (c *Cluster) redirect(w http.ResponseWriter, r *http.Request, t ticket) {
	id := uuid.NewString()
	c.mu.Lock()
	addr := c.dataNodeAddr
	if addr != "" {
		c.tickets[id] = t
	}
	c.mu.Unlock()
	if addr == "" {
		respondError(w, errors.New("no datanode available"))
		return
	}

	query := stripRouteVars(r.URL.RawQuery) + "&namenoderpcaddress=fake&" + paramTicket + "=" + id
	loc := "http://" + addr + r.URL.EscapedPath() + "?" + query
	w.Header().Set("Location", loc)
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusTemporaryRedirect)
}

func (c *Cluster) redeem(r *http.Request, op webhdfs.Operation) (ticket, error) {
	id := r.URL.Query().Get(paramTicket)
	c.mu.Lock()
	t, ok := c.tickets[id]
	if ok {
		delete(c.tickets, id)
	}
	c.mu.Unlock()
	if !ok || t.op != op || t.path != remotePath(r) {
		return ticket{}, errInvalidTicket
	}
	return t, nil
}

var errInvalidTicket = errors.New("invalid or expired transfer ticket")

func (c *Cluster) handleDataNodeWrite(op webhdfs.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if webhdfs.Operation(r.URL.Query().Get("op")) != op {
			respondUnsupported(w, r)
			return
		}
		t, err := c.redeem(r, op)
		if err != nil {
			respondError(w, err)
			return
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			respondError(w, errors.Wrap(err, "read request body"))
			return
		}
		if op == webhdfs.OpCreate {
			if err := c.fs.Create(t.path, data, t.overwrite, t.replication, t.owner); err != nil {
				respondError(w, err)
				return
			}
			w.Header().Set("Content-Length", "0")
			w.WriteHeader(http.StatusCreated)
			return
		}
		if err := c.fs.Append(t.path, data); err != nil {
			respondError(w, err)
			return
		}
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	}
}

func (c *Cluster) handleDataNodeOpen(w http.ResponseWriter, r *http.Request) {
	if webhdfs.Operation(r.URL.Query().Get("op")) != webhdfs.OpOpen {
		respondUnsupported(w, r)
		return
	}
	t, err := c.redeem(r, webhdfs.OpOpen)
	if err != nil {
		respondError(w, err)
		return
	}
	data, err := c.fs.Open(t.path)
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// remotePath returns the filesystem path captured by the route.
func remotePath(r *http.Request) string {
	p := r.URL.Query().Get(keyPath)
	if p == "" {
		return "/"
	}
	return p
}

// stripRouteVars drops the ":name" parameters the router adds to the query.
func stripRouteVars(raw string) string {
	parts := strings.Split(raw, "&")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" || strings.HasPrefix(part, url.QueryEscape(":")) || strings.HasPrefix(part, ":") {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "&")
}

func optionalInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func respondUnsupported(w http.ResponseWriter, r *http.Request) {
	respondException(w, http.StatusBadRequest, "IllegalArgumentException", "java.lang.IllegalArgumentException",
		"Invalid value for webhdfs parameter \"op\": "+r.URL.Query().Get("op")+" is not a valid "+r.Method+" operation")
}

func respondError(w http.ResponseWriter, err error) {
	switch errors.Cause(err) {
	case ErrNotFound:
		respondException(w, http.StatusNotFound, "FileNotFoundException", "java.io.FileNotFoundException", err.Error())
	case ErrAlreadyExists:
		respondException(w, http.StatusForbidden, "FileAlreadyExistsException", "org.apache.hadoop.fs.FileAlreadyExistsException", err.Error())
	case ErrNotEmpty:
		respondException(w, http.StatusForbidden, "PathIsNotEmptyDirectoryException", "org.apache.hadoop.fs.PathIsNotEmptyDirectoryException", err.Error())
	case ErrIsDirectory, ErrNotDirectory:
		respondException(w, http.StatusNotFound, "FileNotFoundException", "java.io.FileNotFoundException", err.Error())
	case ErrInvalidPath:
		respondException(w, http.StatusBadRequest, "IllegalArgumentException", "java.lang.IllegalArgumentException", err.Error())
	case errInvalidTicket:
		respondException(w, http.StatusForbidden, "InvalidToken", "org.apache.hadoop.security.token.SecretManager$InvalidToken", err.Error())
	default:
		respondException(w, http.StatusInternalServerError, "IOException", "java.io.IOException", err.Error())
	}
}

func respondException(w http.ResponseWriter, code int, exception, className, message string) {
	respondJSON(w, code, map[string]hdfsapi.RemoteException{
		hdfsapi.KeyRemoteException: {
			Exception:     exception,
			JavaClassName: className,
			Message:       message,
		},
	})
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
