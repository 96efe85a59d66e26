package utils

import "github.com/google/uuid"

// GenerateID returns a collision-resistant identifier used for submissions,
// results, transmissions and staging keys.
func GenerateID() string {
	return uuid.NewString()
}
