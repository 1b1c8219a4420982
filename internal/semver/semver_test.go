package semver

import "testing"

func TestSatisfies(t *testing.T) {
	c := MustParseConstraint("^1.2.0")

	if !Satisfies(MustParseVersion("1.2.0"), c) {
		t.Fatalf("expected 1.2.0 to satisfy ^1.2.0")
	}
	if !Satisfies(MustParseVersion("1.9.9"), c) {
		t.Fatalf("expected 1.9.9 to satisfy ^1.2.0")
	}
	if Satisfies(MustParseVersion("2.0.0"), c) {
		t.Fatalf("expected 2.0.0 to NOT satisfy ^1.2.0")
	}
}

func TestParseConstraint_EmptyAcceptsAll(t *testing.T) {
	c, err := ParseConstraint("  ")
	if err != nil {
		t.Fatalf("ParseConstraint error: %v", err)
	}
	if !Satisfies(MustParseVersion("0.0.1"), c) {
		t.Fatalf("expected empty constraint to accept 0.0.1")
	}
}

func TestCompare(t *testing.T) {
	if Compare(MustParseVersion("1.0.0"), MustParseVersion("1.0.1")) != -1 {
		t.Fatalf("expected 1.0.0 < 1.0.1")
	}
	if Compare(Version{}, MustParseVersion("0.0.1")) != -1 {
		t.Fatalf("expected unset version to sort first")
	}
}

func TestCompatible(t *testing.T) {
	c := MustParseConstraint(">=1.0.0 <2.0.0")

	if err := Compatible("1.4.0", c); err != nil {
		t.Fatalf("expected 1.4.0 to be compatible: %v", err)
	}
	if err := Compatible("2.1.0", c); err == nil {
		t.Fatalf("expected 2.1.0 to be rejected")
	}
	if err := Compatible("", c); err == nil {
		t.Fatalf("expected missing version to be rejected")
	}
	if err := Compatible("not-a-version", c); err == nil {
		t.Fatalf("expected garbage version to be rejected")
	}
}
