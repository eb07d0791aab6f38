// Package relay forwards manager events to a capped Redis stream so
// off-box consumers (wallboards, recorders) can follow the feed without
// holding a websocket to this daemon. The stream is best effort: entries
// past the configured length are trimmed and a Redis outage drops events
// rather than stalling the bus.
package relay
