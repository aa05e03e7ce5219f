// Package repository implements MongoDB access for each collection.  The
// sentinel errors below let services tell "absent" and "duplicate" apart
// from driver failures without importing the driver themselves.
package repository

import (
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/iliyamo/dermascan/internal/database"
)

// ErrNotFound is returned when a lookup matches no document.  Services
// translate it into a 404 or an authentication failure as appropriate.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert violates a unique index that is
// not one of the more specific cases below.
var ErrConflict = errors.New("conflict")

// ErrUsernameExists and ErrEmailExists are returned by UserRepo.Create when
// the corresponding unique index rejects the insert.
var (
	ErrUsernameExists = errors.New("username already exists")
	ErrEmailExists    = errors.New("email already exists")
)

// mapErr normalizes driver errors into the sentinels above.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		msg := err.Error()
		switch {
		case strings.Contains(msg, database.UsernameIndex):
			return ErrUsernameExists
		case strings.Contains(msg, database.EmailIndex):
			return ErrEmailExists
		}
		return ErrConflict
	}
	return err
}
