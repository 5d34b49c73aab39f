package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a record identifier of the form "<prefix>_<uuid>".
func New(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}
