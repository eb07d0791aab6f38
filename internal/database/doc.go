// Package database provides the PostgreSQL connection pool for the
// queue-member mirror.
package database
