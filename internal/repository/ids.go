package repository

import "github.com/google/uuid"

// IDStrategy produces candidate ids. Repository retries until a candidate is
// unused, so strategies do not need to track what has been issued.
type IDStrategy interface {
	NewID() string
}

// RandomIDs issues random (version 4) UUIDs backed by crypto/rand.
type RandomIDs struct{}

func (RandomIDs) NewID() string {
	return uuid.NewString()
}

// IDFunc adapts a function to IDStrategy.
type IDFunc func() string

func (f IDFunc) NewID() string { return f() }
