// Package store provides the SQLite-backed record store of castplan.
//
// The store holds production groups, the department and activity lookups,
// allocations and the append-only audit and error journals. It maps its
// columns onto the typed model structs at this boundary; nothing above it
// sees a column name.
//
// # Write semantics
//
//   - CreateAllocations and UpdateAllocations run one transaction per call,
//     so a rejected batch writes nothing and can be retried record by record.
//   - Allocations are never deleted; soft-deletes set the deleted flag.
//   - Allocation and journal IDs are UUIDv7 strings, sortable by creation.
//   - Hours are stored as decimal TEXT so no precision is lost.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Error entries and allocations must reference
//     existing groups
package store
