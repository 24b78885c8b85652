// Package health serves liveness and readiness probes on a dedicated port,
// away from API traffic. Readiness fans out to one Checker per backing
// dependency.
package health

import "context"

// Checker probes one dependency. Implementations must be safe for
// concurrent use and bound their own work with the supplied context.
type Checker interface {
	// Name labels the dependency in the readiness body ("database", "redis").
	Name() string
	// Check returns nil when the dependency is reachable.
	Check(ctx context.Context) error
}
