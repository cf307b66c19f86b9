package id

import "github.com/google/uuid"

// New returns a random (v4) job id.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s has the shape New produces.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
