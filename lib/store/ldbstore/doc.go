/*
Package ldbstore implements the store interfaces on top of goleveldb.

Every database of an environment is its own leveldb instance, either kept in
memory (storage.NewMemStorage) or in a sub directory of the environment
directory. Opening the same name twice shares the instance.

Transactions read from a leveldb snapshot taken on first access and buffer
their writes in an ordered memdb overlay. Nested transactions stack further
overlays on top and hand them to their parent on commit. Only the commit of
the root transaction writes to leveldb, as one batch per database.

Writes lock the record for the root transaction until it terminates
(see lockmgr). A writer waits at most Options.LockTimeout for a conflicting
lock and fails immediately if waiting would deadlock.

Cursors do not hold leveldb iterators between calls. They remember the key
they are positioned on and re-seek a merged view over the overlays and the
snapshot for every operation.
*/
package ldbstore
