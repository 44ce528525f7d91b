package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"Unit Tests!":   "Unit-Tests-",
		"lint":          "lint",
		"a/b/c":         "a-b-c",
		"--already--ok": "-already-ok-",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), "Sanitize(%q)", in)
	}
}

func TestCreateParseRoundTrip(t *testing.T) {
	cases := []struct {
		kind Kind
		job  string
	}{
		{KindNet, ""},
		{KindPipe, ""},
		{KindJob, "lint"},
		{KindJob, "Unit-Tests-"},
	}
	for _, c := range cases {
		name := Create(DefaultPrefix, c.kind, "abc123", c.job)
		got, ok := Parse(DefaultPrefix, name.Raw)
		assert.True(t, ok, "parse of %q should succeed", name.Raw)
		assert.Equal(t, c.kind, got.Kind)
		assert.Equal(t, "abc123", got.SHA)
		assert.Equal(t, c.job, got.JobName)
	}
}

func TestParseRejectsForeignNames(t *testing.T) {
	_, ok := Parse(DefaultPrefix, "some-other-container")
	assert.False(t, ok)

	_, ok = Parse(DefaultPrefix, "jayporeci__net") // missing sha
	assert.False(t, ok)

	_, ok = Parse(DefaultPrefix, "jayporeci__bogus__sha")
	assert.False(t, ok)
}

func TestRelated(t *testing.T) {
	name := Create(DefaultPrefix, KindJob, "deadbeef", "test")
	assert.Equal(t, "jayporeci__net__deadbeef", name.Related(KindNet))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("lint"))
	assert.Error(t, Validate("Unit Tests!"))
	assert.Error(t, Validate(""))
}
