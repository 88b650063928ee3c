/*
Package taskfsm implements the Task State Machine (component C in
spec.md §4.3): a pure function `(state, event) -> state' | error` with
no I/O, no storage, no network — deliberately so it can be unit-tested
exhaustively against every (state, event) pair in the transition
table, including every illegal transition.

	┌──────────┐ AssignData ┌──────────────┐  Approve*  ┌──────────┐
	│ Created  │──────────▶│ DataAssigned │───────────▶│ Approved │
	└──────────┘            └──────────────┘            └────┬─────┘
	     │Cancel                  │Cancel                    │Invoke
	     ▼                        ▼                          ▼
	┌──────────┐            ┌──────────┐              ┌──────────┐
	│ Canceled │◀───────────┤ Canceled │              │  Staged  │
	└──────────┘            └──────────┘              └────┬─────┘
	                                                        │Pull
	                                               Cancel    ▼
	                                        ┌───────────┐  ┌──────────┐
	                                        │ Canceled  │◀─┤ Running  │
	                                        └───────────┘  └────┬─────┘
	                                              LeaseExpired│ │Heartbeat (self-loop)
	                                                           │ │Complete
	                                                 ┌─────────┘ └────────┐
	                                                 ▼                    ▼
	                                           ┌──────────┐        ┌────────────┐
	                                           │  Failed  │        │  Finished  │
	                                           └──────────┘        └────────────┘

Everything that decides *whether* a transition applies (ownership
checks, lease arithmetic) lives here; everything that decides *when*
to apply one (CAS retries, enqueueing, heartbeat timers), and the
output-file cmac attachment after Complete, lives in
internal/management and internal/scheduler.
*/
package taskfsm
