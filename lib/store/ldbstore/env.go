package ldbstore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dbRPC/lib/lockmgr"
	"github.com/ValentinKolb/dbRPC/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

var Logger = logger.GetLogger("store")

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

const (
	defaultLockTimeout = 2 * time.Second
)

// Options configures an environment
type Options struct {
	Dir         string        // Directory holding one leveldb per database (ignored in memory)
	InMemory    bool          // Keep all databases in memory
	LockTimeout time.Duration // Max time a writer waits for a conflicting lock (0 = use default)
	LevelDB     *opt.Options  // Options passed to leveldb (nil = defaults)
}

// DefaultOptions returns the options for an in-memory environment
func DefaultOptions() Options {
	return Options{
		InMemory:    true,
		LockTimeout: defaultLockTimeout,
	}
}

// --------------------------------------------------------------------------
// Environment
// --------------------------------------------------------------------------

// sharedDB is the underlying leveldb instance of a database name.
// Every Open of the same name shares one sharedDB.
type sharedDB struct {
	name    string
	ldb     *leveldb.DB
	refs    int // open handles (guarded by envImpl.mu)
	txnRefs int // root transactions that read or wrote this db (guarded by envImpl.mu)
}

type envImpl struct {
	opts      Options
	mu        sync.Mutex
	dbs       map[string]*sharedDB
	mem       map[string]storage.Storage // in-memory storages outlive closed handles
	locks     lockmgr.ILockManager
	nextTxnID atomic.Uint64
	closed    bool
}

// NewEnvironment creates a new goleveldb backed environment
func NewEnvironment(opts Options) (store.Environment, error) {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}

	if !opts.InMemory {
		if opts.Dir == "" {
			return nil, store.NewError(store.RetCInvalidArgument, "environment directory must not be empty")
		}
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, wrapErr(err, "failed to create environment directory %s", opts.Dir)
		}
	}

	return &envImpl{
		opts:  opts,
		dbs:   make(map[string]*sharedDB),
		mem:   make(map[string]storage.Storage),
		locks: lockmgr.NewLockManager(),
	}, nil
}

// NewInMemoryEnvironment creates a new environment that keeps all data in memory
func NewInMemoryEnvironment() (store.Environment, error) {
	return NewEnvironment(DefaultOptions())
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (env *envImpl) Open(name string, flags store.OpenFlags) (store.Database, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	env.mu.Lock()
	defer env.mu.Unlock()

	if env.closed {
		return nil, store.NewError(store.RetCInvalidOperation, "environment is closed")
	}

	shared, ok := env.dbs[name]
	if !ok {
		ldb, err := env.openLevelDB(name, flags&store.OpenCreate != 0)
		if err != nil {
			return nil, err
		}
		shared = &sharedDB{name: name, ldb: ldb}
		env.dbs[name] = shared
		Logger.Debugf("opened database %s", name)
	}
	shared.refs++

	return &dbImpl{
		env:      env,
		shared:   shared,
		readOnly: flags&store.OpenReadOnly != 0,
	}, nil
}

func (env *envImpl) Begin(parent store.Txn) (store.Txn, error) {
	env.mu.Lock()
	closed := env.closed
	env.mu.Unlock()
	if closed {
		return nil, store.NewError(store.RetCInvalidOperation, "environment is closed")
	}

	if parent == nil {
		return newRootTxn(env), nil
	}

	p, err := env.ownTxn(parent)
	if err != nil {
		return nil, err
	}
	return p.begin()
}

func (env *envImpl) Close() error {
	env.mu.Lock()
	defer env.mu.Unlock()

	if env.closed {
		return nil
	}
	env.closed = true

	var firstErr error
	for name, shared := range env.dbs {
		if err := shared.ldb.Close(); err != nil && firstErr == nil {
			firstErr = wrapErr(err, "failed to close database %s", name)
		}
		delete(env.dbs, name)
	}
	for name, stor := range env.mem {
		_ = stor.Close()
		delete(env.mem, name)
	}
	return firstErr
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// openLevelDB opens the leveldb instance for name (caller must hold env.mu)
func (env *envImpl) openLevelDB(name string, create bool) (*leveldb.DB, error) {
	if env.opts.InMemory {
		stor, ok := env.mem[name]
		if !ok {
			if !create {
				return nil, store.Errorf(store.RetCNotFound, "database %s does not exist", name)
			}
			stor = storage.NewMemStorage()
			env.mem[name] = stor
		}
		ldb, err := leveldb.Open(stor, env.opts.LevelDB)
		if err != nil {
			return nil, wrapErr(err, "failed to open in-memory database %s", name)
		}
		return ldb, nil
	}

	dbPath := filepath.Join(env.opts.Dir, name)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) && !create {
		return nil, store.Errorf(store.RetCNotFound, "database %s does not exist", name)
	}

	// Open leveldb. If it doesn't exist, create it.
	ldb, err := leveldb.OpenFile(dbPath, env.opts.LevelDB)

	// If the database is corrupted, attempt to recover.
	if ldberrors.IsCorrupted(err) {
		Logger.Warningf("leveldb corruption detected for path %s: %s", dbPath, err)
		ldb, err = leveldb.RecoverFile(dbPath, env.opts.LevelDB)
		if err == nil {
			Logger.Warningf("leveldb recovered from corruption for path %s", dbPath)
		}
	}
	if err != nil {
		return nil, wrapErr(err, "failed to open database %s", name)
	}
	return ldb, nil
}

// release drops one handle reference of shared (caller must hold env.mu)
func (env *envImpl) release(shared *sharedDB) error {
	shared.refs--
	if shared.refs > 0 {
		return nil
	}
	delete(env.dbs, shared.name)
	Logger.Debugf("closing database %s", shared.name)
	return wrapErr(shared.ldb.Close(), "failed to close database %s", shared.name)
}

// ownTxn checks that txn was created by this environment
func (env *envImpl) ownTxn(txn store.Txn) (*txnImpl, error) {
	t, ok := txn.(*txnImpl)
	if !ok || t.env != env {
		return nil, store.NewError(store.RetCInvalidArgument, "transaction does not belong to this environment")
	}
	return t, nil
}

// lockKey returns the lock manager key for a record
func lockKey(dbName string, key []byte) string {
	return dbName + "\x00" + string(key)
}

// validateName checks that a database name is usable as a directory name
func validateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return store.Errorf(store.RetCInvalidArgument, "invalid database name %q", name)
	}
	return nil
}

// wrapErr converts an error of goleveldb or the lock manager into a *store.Error.
// It returns nil if err is nil.
func wrapErr(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		return storeErr
	}

	msg := errors.Wrapf(err, format, args...).Error()
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return store.NewError(store.RetCNotFound, msg)
	case errors.Is(err, leveldb.ErrClosed), errors.Is(err, leveldb.ErrSnapshotReleased), errors.Is(err, leveldb.ErrIterReleased):
		return store.NewError(store.RetCInvalidOperation, msg)
	case errors.Is(err, lockmgr.ErrDeadlock):
		return store.NewError(store.RetCDeadlock, msg)
	case errors.Is(err, lockmgr.ErrTimeout):
		return store.NewError(store.RetCLockTimeout, msg)
	default:
		return store.NewError(store.RetCInternalError, msg)
	}
}
