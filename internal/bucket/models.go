package bucket

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxNameLength = 63

// reservedNames collide with static segments of the /images routes.
var reservedNames = map[string]struct{}{
	"deleted": {},
	"uploads": {},
	"restore": {},
	"destroy": {},
}

// Bucket is a named directory of items mirrored by a database row.
type Bucket struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Size is the sum of the byte sizes of the bucket's active items.
	Size int64 `json:"size"`
}

// NormalizeName trims surrounding whitespace from a client supplied name.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// ValidateName checks that name is usable as a single directory segment and
// as a path parameter under /images.
func ValidateName(name string) error {
	if name == "" {
		return ErrBucketNameRequired
	}
	if len(name) > maxNameLength {
		return ErrBucketNameInvalid
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case isAlnum(c):
		case i > 0 && (c == '.' || c == '_' || c == '-'):
		default:
			return ErrBucketNameInvalid
		}
	}
	if _, ok := reservedNames[strings.ToLower(name)]; ok {
		return ErrBucketNameReserved
	}
	return nil
}

func isAlnum(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
