// Package stableid derives permanent, rename-proof identifiers for
// content items. The ID is computed once from immutable creation-time
// attributes and persisted with the item; later slug or title changes
// never touch it, so historical metrics stay attached across renames.
package stableid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// digestLen is the number of hex characters kept from the SHA-256 digest.
// 32 bits of digest is ample at low-thousands content volume.
const digestLen = 8

// DuplicateError indicates two content items would share the same stable ID.
// Silently merging two items' metrics is never acceptable, so assignment
// fails loudly and the caller must supply an explicit override.
type DuplicateError struct {
	ID           string
	OriginalSlug string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("stable ID %q already assigned (slug %q): pass an explicit override", e.ID, e.OriginalSlug)
}

// Generate derives a stable ID from a content item's immutable attributes.
// Format: <typeTag>-<YYYYMMDD>-<8 hex digest>, e.g. "blog-20240115-a1b2c3d4".
// Identical inputs always yield the identical ID.
func Generate(typeTag string, created time.Time, originalSlug string) string {
	date := created.UTC().Format("20060102")
	sum := sha256.Sum256([]byte(date + "\x00" + originalSlug))
	return fmt.Sprintf("%s-%s-%s", typeTag, date, hex.EncodeToString(sum[:])[:digestLen])
}

// Valid reports whether s has the shape of a generated stable ID.
// Used to sanity-check overrides before they become permanent.
func Valid(s string) bool {
	parts := strings.Split(s, "-")
	if len(parts) < 3 {
		return false
	}
	date := parts[len(parts)-2]
	digest := parts[len(parts)-1]
	if _, err := time.Parse("20060102", date); err != nil {
		return false
	}
	if len(digest) != digestLen {
		return false
	}
	_, err := hex.DecodeString(digest)
	return err == nil
}

// Registry tracks assigned IDs and rejects collisions at creation time.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	assigned map[string]string // id -> original slug
}

// NewRegistry creates a registry pre-seeded with already-persisted IDs.
// The seed maps stable ID to the original slug it was assigned for.
func NewRegistry(seed map[string]string) *Registry {
	assigned := make(map[string]string, len(seed))
	for id, slug := range seed {
		assigned[id] = slug
	}
	return &Registry{assigned: assigned}
}

// Assign generates and records a stable ID for a new content item.
// If override is non-empty it is used verbatim instead of the derived ID;
// the override then becomes permanent like any generated ID.
// Returns a *DuplicateError when the resulting ID is already taken.
func (r *Registry) Assign(typeTag string, created time.Time, originalSlug, override string) (string, error) {
	id := override
	if id == "" {
		id = Generate(typeTag, created, originalSlug)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prevSlug, taken := r.assigned[id]; taken {
		return "", &DuplicateError{ID: id, OriginalSlug: prevSlug}
	}
	r.assigned[id] = originalSlug
	return id, nil
}

// Assigned reports whether an ID is already recorded.
func (r *Registry) Assigned(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.assigned[id]
	return ok
}
