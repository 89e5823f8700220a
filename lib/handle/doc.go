/*
Package handle provides the table that maps wire handles to server side
resources (open databases, cursors and transactions).

Every handle is scoped to the connection that created it and to the shard it
was created on. A handle used by another connection, against another shard or
as the wrong kind does not resolve.

The table keeps integer parent indices (database -> cursors, txn -> cursors,
txn -> nested txns, connection -> handles) so cascades only visit the affected
entries:

  - DetachTxn removes a txn, its nested txns and all cursors opened in them
  - BeginCloseDatabase refuses while cursors of the database are live
  - DetachConnection removes everything a connection owns

Entries leave the table before their resources are torn down. Callers use
Acquire/Lease for shared use of a resource and Quiesce or Exclusive before
destroying it, so a teardown never races an in-flight operation and an
operation never sees a half destroyed resource.
*/
package handle
