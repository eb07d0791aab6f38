// Package mirror keeps a queue_members table in step with live queue
// membership.
//
// Member events from the bus become batched upserts and deletes; every
// ready transition triggers a full resync from an authoritative
// QueueStatus listing, sweeping rows the event stream missed. The table
// always holds current membership, never history.
package mirror
