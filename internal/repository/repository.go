// Package repository persists viewer preferences and the refresh history.
package repository

import (
	"context"
	"fmt"

	"github.com/Dusre/radar/pkg/database"
)

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}

// HealthChecker is implemented by every repository
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

func healthCheck(ctx context.Context, db *database.DB) error {
	return db.HealthCheck(ctx)
}
