// Package harness runs scripted scenarios against the session and list
// engines and checks the results.
//
// A run wires two replicas (engine pairs with separate feed publishers)
// over one store and one bus, so a scenario can interleave calls that a
// multi-process deployment would see. Every saved session or list is also
// followed by a projector view; after the flow the harness waits for each
// view to converge on the store before evaluating assertions.
//
// # Scenario Format
//
//	name: session_elimination
//	description: "What this scenario validates"
//	flow:
//	  - invoke: session.create
//	    as: host
//	    save: s
//	  - invoke: session.join
//	    as: guest
//	    via: b
//	    args: { code: $s.code }
//	  - concurrent:
//	      - invoke: session.eliminate
//	        as: guest
//	        args: { session: $s, candidate: c2 }
//	      - invoke: session.eliminate
//	        as: host
//	        args: { session: $s, candidate: c4 }
//	  - invoke: session.eliminate
//	    as: host
//	    args: { session: $s, candidate: c1 }
//	    expect:
//	      case: INVALID_TRANSITION
//	assertions:
//	  - type: trace_count
//	    action: session.eliminate
//	    count: 3
//	  - type: final_state
//	    table: participants
//	    where: { session_id: $s }
//	    count: 2
//	  - type: projection
//	    view: s
//	    expect: { status: active }
//
// # Assertion Types
//
//   - trace_contains: an invocation with matching (unresolved) args exists
//   - trace_order: first invocations of the actions appear in order
//   - trace_count: an action was invoked exactly N times
//   - final_state: store records matching where, by count or content
//   - projection: a converged view summary contains the expected fields
//
// # Deterministic Testing
//
// Ids come from per-run sequences and timestamps from a step clock. Traces
// record args as written, and concurrent branches are recorded in
// declaration order, so golden files do not depend on scheduling. Join
// codes are random; refer to them through $name.code.
package harness
