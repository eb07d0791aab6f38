// Package ami implements the PBX manager-interface client.
//
// The client:
//   - Frames the line-oriented TCP stream into Key: Value blocks
//   - Decodes blocks into events and action responses
//   - Keeps one authenticated session alive with capped-backoff reconnect
//   - Correlates submitted actions to responses by action identifier
//   - Exposes typed call, queue and channel commands
package ami
