package stableid

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var created = time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)

func TestGenerate_Format(t *testing.T) {
	id := Generate("blog", created, "my-first-post")

	parts := strings.Split(id, "-")
	if len(parts) != 3 {
		t.Fatalf("Generate() = %q, want <tag>-<date>-<digest>", id)
	}
	if parts[0] != "blog" {
		t.Errorf("type tag = %q, want %q", parts[0], "blog")
	}
	if parts[1] != "20240115" {
		t.Errorf("date = %q, want %q", parts[1], "20240115")
	}
	if len(parts[2]) != 8 {
		t.Errorf("digest length = %d, want 8", len(parts[2]))
	}
	if !Valid(id) {
		t.Errorf("Valid(%q) = false, want true", id)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	first := Generate("blog", created, "my-first-post")
	second := Generate("blog", created, "my-first-post")
	if first != second {
		t.Errorf("same inputs produced %q and %q", first, second)
	}
}

func TestGenerate_SlugChangesDigest(t *testing.T) {
	a := Generate("blog", created, "my-first-post")
	b := Generate("blog", created, "my-second-post")
	if a == b {
		t.Errorf("distinct slugs produced identical ID %q", a)
	}
}

func TestGenerate_TimeOfDayIgnored(t *testing.T) {
	// Only the calendar date participates in the digest, so re-deriving
	// with a different creation clock time must not change the ID.
	morning := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2024, 1, 15, 22, 45, 0, 0, time.UTC)
	if a, b := Generate("blog", morning, "post"), Generate("blog", evening, "post"); a != b {
		t.Errorf("time of day changed ID: %q vs %q", a, b)
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"blog-20240115-a1b2c3d4", true},
		{"project-note-20240115-a1b2c3d4", true}, // tag may contain dashes
		{"blog-20241342-a1b2c3d4", false},        // impossible date
		{"blog-20240115-xyz", false},             // short, non-hex digest
		{"justoneword", false},
	}
	for _, tt := range tests {
		if got := Valid(tt.id); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestRegistry_Assign(t *testing.T) {
	r := NewRegistry(nil)

	id, err := r.Assign("blog", created, "my-first-post", "")
	if err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if !r.Assigned(id) {
		t.Errorf("Assigned(%q) = false after Assign", id)
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := NewRegistry(nil)

	if _, err := r.Assign("blog", created, "my-first-post", ""); err != nil {
		t.Fatalf("first Assign() error = %v", err)
	}

	_, err := r.Assign("blog", created, "my-first-post", "")
	if err == nil {
		t.Fatal("second Assign() with identical inputs succeeded, want DuplicateError")
	}
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("Assign() error = %T, want *DuplicateError", err)
	}
	if dup.OriginalSlug != "my-first-post" {
		t.Errorf("DuplicateError.OriginalSlug = %q, want %q", dup.OriginalSlug, "my-first-post")
	}
}

func TestRegistry_OverrideResolvesCollision(t *testing.T) {
	r := NewRegistry(nil)

	if _, err := r.Assign("blog", created, "my-first-post", ""); err != nil {
		t.Fatalf("first Assign() error = %v", err)
	}

	id, err := r.Assign("blog", created, "my-first-post", "blog-20240115-override1")
	if err != nil {
		t.Fatalf("Assign() with override error = %v", err)
	}
	if id != "blog-20240115-override1" {
		t.Errorf("Assign() = %q, want override verbatim", id)
	}

	// The override is permanent too: reusing it collides.
	if _, err := r.Assign("blog", created, "another-post", "blog-20240115-override1"); err == nil {
		t.Error("reusing an override succeeded, want DuplicateError")
	}
}

func TestRegistry_SeededFromPersistedIDs(t *testing.T) {
	seeded := Generate("blog", created, "my-first-post")
	r := NewRegistry(map[string]string{seeded: "my-first-post"})

	if _, err := r.Assign("blog", created, "my-first-post", ""); err == nil {
		t.Error("Assign() colliding with seeded ID succeeded, want DuplicateError")
	}
}
