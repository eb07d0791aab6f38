// Package bus fans decoded manager events out to in-process consumers.
//
// Each subscriber registers a Sink behind a name filter and gets its own
// bounded backlog with a dedicated drain goroutine. Publishing never
// blocks: a subscriber that falls behind loses its own oldest events,
// and one that keeps failing past its retry budget is unregistered.
package bus
