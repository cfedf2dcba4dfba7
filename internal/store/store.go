// Package store defines the versioned keyed store the command processor
// reads and writes through. The store is the single source of truth for
// aggregate state and the arbiter of concurrent writers: a Set conditioned
// on a stale version fails, and the losing command surfaces a conflict.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates a key was not located.
	ErrNotFound = errors.New("store: not found")
	// ErrVersionMismatch indicates a conditional write lost to a
	// concurrent writer or targeted an existing key on create.
	ErrVersionMismatch = errors.New("store: version mismatch")
)

// Txn exposes reads and conditional writes inside one transaction.
type Txn interface {
	// Get returns the value and current version for key, or ErrNotFound.
	Get(key string) ([]byte, uint64, error)
	// Set writes value conditioned on the key's version still being
	// expectedVersion. expectedVersion 0 demands the key not exist yet.
	Set(key string, value []byte, expectedVersion uint64) error
	// Delete removes a key. Missing keys are not an error.
	Delete(key string) error
	// Scan invokes fn for every key with the given prefix. Returning
	// false stops the scan.
	Scan(prefix string, fn func(key string, value []byte) bool) error
}

// Store runs transactions against the durable keyed store.
type Store interface {
	// View runs a read-only transaction.
	View(ctx context.Context, fn func(Txn) error) error
	// Update runs a read-write transaction. The whole transaction
	// commits atomically or not at all.
	Update(ctx context.Context, fn func(Txn) error) error
	// Ping verifies connectivity for health checks.
	Ping(ctx context.Context) error
	Close() error
}

// Key prefixes shared by both store drivers.
const (
	KeyProjectPrefix    = "project/"
	KeyProjectNameIndex = "project-name/"
	KeyDeploymentIndex  = "deployment-project/"
	KeyCommandPrefix    = "command/"
	KeyOutboxPrefix     = "outbox/"
)

// ProjectKey builds the aggregate key for a project ID.
func ProjectKey(projectID string) string { return KeyProjectPrefix + projectID }

// ProjectNameKey builds the owner-scoped name uniqueness key.
func ProjectNameKey(ownerID, name string) string {
	return KeyProjectNameIndex + ownerID + "/" + name
}

// DeploymentIndexKey resolves a deployment ID to its owning project.
func DeploymentIndexKey(deploymentID string) string {
	return KeyDeploymentIndex + deploymentID
}

// CommandKey builds the idempotency record key for a correlation ID.
func CommandKey(correlationID string) string { return KeyCommandPrefix + correlationID }

// OutboxKey builds the pending-event key for an event ID.
func OutboxKey(eventID string) string { return KeyOutboxPrefix + eventID }
