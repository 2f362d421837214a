// Package id provides unique identifier generation for jobs and uploads.
package id

import "github.com/google/uuid"

// Generate creates a new unique job ID.
func Generate() string {
	return uuid.NewString()
}
