package waitlist_gate

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned by Store.Insert when the email is already stored.
var ErrDuplicate = errors.New("email already on the waitlist")

// Entry is one waitlist signup.
type Entry struct {
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the persistence collaborator of the gate.
//
// Exists is a fast-path lookup only. Insert must enforce uniqueness of the
// email itself (unique key, conditional write) and report a clash as
// ErrDuplicate, since two submissions can both pass Exists before either
// inserts.
type Store interface {
	Exists(ctx context.Context, email string) (bool, error)
	Insert(ctx context.Context, entry Entry) error
}
