// Package harness runs multi-run sync scenarios against a scripted origin.
//
// A scenario describes feed entries, the origin's behaviour for each run,
// and what every run must produce. The harness executes the runs in order
// against one persistent workspace (manifest, offers file, object store and
// run ledger), so later runs observe the state earlier runs left behind.
//
// # Scenario Format
//
//	name: conditional_reuse
//	description: "A second run revalidates and uploads nothing"
//	options:
//	  concurrency: 2
//	  attempts: 3
//	entries:
//	  - identifier: A1
//	    urls: [/a.jpg]
//	runs:
//	  - name: first
//	    origin:
//	      /a.jpg: { body: img-a, content_type: image/jpeg, etag: '"a1"' }
//	    expect:
//	      stats: { uploaded: 1 }
//	      manifest_changed: true
//	  - name: second
//	    expect:
//	      stats: { reused_not_modified: 1 }
//	      conditional: [/a.jpg]
//
// URLs starting with "/" are resolved against the scripted origin. Origin
// resources persist across runs until replaced; scripted responses are
// consumed ahead of them.
//
// # Expectations
//
// Every expectation is a subset match: fields left out are not checked.
//
//   - stats: counters by name (uploaded, reused_not_modified, ...)
//   - manifest_changed, manifest_uploaded: publish decisions
//   - hits: origin requests per path during the run
//   - conditional: paths that received a conditional request
//   - outcomes: ledger outcome per path
//   - offers: resolved URL count per identifier (0 means absent)
//   - objects: distinct objects in the store after the run
//   - error: substring of the sync error; the run must fail
//
// # Determinism
//
// Backoff sleeps are recorded instead of slept, run IDs are sequential
// ("run-1", "run-2", ...), and the origin's address is stripped from every
// recorded URL, so a scenario's snapshot is byte-stable and can be compared
// against a golden file.
package harness
