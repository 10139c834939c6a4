// Package orchestrator drives a single assistant turn: it appends the user's
// message to a remote conversation, starts a run, polls the run until it
// needs tool outputs or finishes, answers tool calls through a Dispatcher,
// and finally returns the newest assistant reply.
//
// # States
//
//	waiting  --poll--> waiting | acting | fetching | done(error)
//	acting   --submit outputs--> waiting (fresh attempt budget)
//	fetching --list messages--> done(text) | done(protocol error)
//
// The waiting state owns a bounded attempt counter. Each attempt sleeps for
// the poll interval and then reads the run. Entering acting and submitting
// outputs starts a new waiting phase with a fresh counter, so the budget
// bounds each wait rather than the whole run.
//
// Failures are returned as *RunError with a Kind so callers can convert
// them into user-presentable text in one place.
package orchestrator
