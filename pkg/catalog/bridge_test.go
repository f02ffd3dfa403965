package catalog

import "testing"

func TestSubjectsDefaultPrefix(t *testing.T) {
	t.Parallel()
	s := Subjects{}
	if got, want := s.Published("appA"), "entropysync.catalog.appA.published"; got != want {
		t.Errorf("Published() = %q, want %q", got, want)
	}
	if got, want := s.Unpublished("appA"), "entropysync.catalog.appA.unpublished"; got != want {
		t.Errorf("Unpublished() = %q, want %q", got, want)
	}
}

func TestSubjectsCustomPrefix(t *testing.T) {
	t.Parallel()
	s := Subjects{Prefix: "custom.prefix"}
	if got, want := s.Published("appA"), "custom.prefix.appA.published"; got != want {
		t.Errorf("Published() = %q, want %q", got, want)
	}
}

// NewBridge requires a reachable NATS server, which this test suite
// does not start, so connection behavior is exercised only through
// Subjects above. Attach's wiring to a schema.Registry is covered by
// pkg/session's fan-out tests, which rely on the same OnPublish/
// OnUnpublish contract.
