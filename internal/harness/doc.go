// Package harness runs end-to-end convergence scenarios.
//
// A scenario is a YAML file that seeds a fresh in-memory SQLite store,
// walks a production group through a flow of steps, and checks the
// resulting records:
//
//	name: shrink
//	description: Dropping a unit soft-deletes its allocations.
//	group: grp-1
//	fixture:
//	  departments: [{id: dep-rest, name: Rest}, ...]
//	  groups:
//	    - id: grp-1
//	      name: PG100
//	      unit_count: 4
//	      ...
//	flow:
//	  - run:
//	      expect: {created: 22}
//	  - set: {unit_count: 3}
//	  - run:
//	      expect: {updated: 17, deleted: 5}
//	assertions:
//	  - type: live_count
//	    count: 17
//
// Step kinds:
//   - run: converge the group once; expect checks the ledger or the error code
//   - set: overwrite group fields, same keys as the fixture
//   - duplicate: copy the stored record with the given key under a new ID,
//     the leftover of a create race
//   - concurrent_insert: arm a writer that inserts the planned record for a
//     key between the next run's snapshot and its create pass
//
// Runs use the real engine with fixed generation markers (gen-1, gen-2, ...
// unless the scenario lists its own), so traces are reproducible and can be
// compared against golden files with RunWithGolden.
package harness
