package handle

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Handle is the identifier of a server side resource on the wire.
// Handles are never reused during the lifetime of a table, 0 is never issued.
type Handle uint64

// None is the zero handle ("no handle")
const None Handle = 0

// ConnID identifies a client connection (or HTTP session) of a transport
type ConnID uint64

// Kind is the resource kind of a handle
type Kind uint8

const (
	KindDatabase Kind = iota + 1
	KindCursor
	KindTxn
)

func (k Kind) String() string {
	switch k {
	case KindDatabase:
		return "database"
	case KindCursor:
		return "cursor"
	case KindTxn:
		return "txn"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

var (
	// ErrNotFound is returned for unknown or released handles
	ErrNotFound = errors.New("handle: not found")
	// ErrKindMismatch is returned if a handle is used as a different kind
	ErrKindMismatch = errors.New("handle: kind mismatch")
	// ErrNotOwner is returned if a handle is used by another connection or against another shard
	ErrNotOwner = errors.New("handle: not owned by caller")
	// ErrBusy is returned if a handle still has live dependents (or its database is being closed)
	ErrBusy = errors.New("handle: resource busy")
)

// Scope identifies who may use a handle: the connection that created it, against the shard it was created on
type Scope struct {
	Conn  ConnID
	Shard uint64
}

// IDSource produces handle identifiers. Implementations must return strictly
// increasing values greater than zero and be safe for concurrent use.
type IDSource interface {
	Next() uint64
}

// NewCounter returns an IDSource that starts after start
func NewCounter(start uint64) IDSource {
	c := &counter{}
	c.n.Store(start)
	return c
}

type counter struct {
	n atomic.Uint64
}

func (c *counter) Next() uint64 {
	return c.n.Add(1)
}

// --------------------------------------------------------------------------
// Entry
// --------------------------------------------------------------------------

// Entry is one registered resource. All exported fields are immutable after
// allocation.
type Entry struct {
	ID       Handle
	Kind     Kind
	Scope    Scope
	DB       Handle // cursor: the database it iterates
	Txn      Handle // cursor: the txn it was opened in, txn: the parent txn
	Resource any

	use     sync.RWMutex
	dead    atomic.Bool
	closing bool // database only, guarded by the table mutex
}

// Dead reports whether the entry was removed from its table
func (e *Entry) Dead() bool {
	return e.dead.Load()
}

// Lease is a shared use of a live entry. Teardown of the entry waits until
// every lease is returned.
type Lease struct {
	*Entry
	once sync.Once
}

// Done returns the lease. Calling it more than once is a no-op.
func (l *Lease) Done() {
	l.once.Do(l.use.RUnlock)
}

// Quiesce waits until no lease of the entry is outstanding. Leases taken
// after the entry died fail, so after Quiesce the resource is no longer used.
func (e *Entry) Quiesce() {
	e.use.Lock()
	e.use.Unlock()
}

// Exclusive runs fn while no lease of the entry is outstanding
func (e *Entry) Exclusive(fn func()) {
	e.use.Lock()
	defer e.use.Unlock()
	fn()
}

// AllocRequest describes a resource to register
type AllocRequest struct {
	Kind     Kind
	Scope    Scope
	DB       Handle // required for cursors
	Txn      Handle // optional for cursors (owning txn) and txns (parent)
	Resource any
}

// Detached is the set of entries removed from the table by a cascade.
// Entries are ordered so they can be torn down front to back:
// cursors first, txns children before parents, databases last.
type Detached struct {
	Cursors []*Entry
	Txns    []*Entry
	DBs     []*Entry
}

// Len returns the number of detached entries
func (d Detached) Len() int {
	return len(d.Cursors) + len(d.Txns) + len(d.DBs)
}

// Stats are the live entry counts of a table
type Stats struct {
	Databases   int
	Cursors     int
	Txns        int
	Connections int
}
