package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct{ sha string }

func (f fakeRepo) SHA() string { return f.sha }

func newBuilder() *Builder {
	return NewBuilder(fakeRepo{sha: "deadbeef"}, Config{DefaultImage: "alpine:latest"})
}

func TestUniqueNamesAcrossStagesAndJobs(t *testing.T) {
	b := newBuilder()
	s1, err := b.Stage("build", JobDefaults{})
	require.NoError(t, err)
	_, err = b.Job(s1, JobSpec{Name: "lint", Command: "ok"})
	require.NoError(t, err)

	_, err = b.Stage("lint", JobDefaults{})
	assert.Error(t, err, "stage name colliding with a job name must fail")

	_, err = b.Job(s1, JobSpec{Name: "lint", Command: "ok"})
	assert.Error(t, err, "duplicate job name must fail")
}

func TestNonServiceJobRequiresCommand(t *testing.T) {
	b := newBuilder()
	s, _ := b.Stage("build", JobDefaults{})
	_, err := b.Job(s, JobSpec{Name: "broken"})
	assert.Error(t, err)

	_, err = b.Job(s, JobSpec{Name: "db", IsService: true, Image: "postgres:16"})
	assert.NoError(t, err)
}

func TestDependencyMustBePreviouslyDeclaredInSameStage(t *testing.T) {
	b := newBuilder()
	s, _ := b.Stage("build", JobDefaults{})
	_, err := b.Job(s, JobSpec{Name: "test", Command: "ok", After: []string{"lint"}})
	assert.Error(t, err, "depending on an undeclared job must fail")

	_, err = b.Job(s, JobSpec{Name: "lint", Command: "ok"})
	require.NoError(t, err)
	_, err = b.Job(s, JobSpec{Name: "test", Command: "ok", After: []string{"lint"}})
	assert.NoError(t, err)
}

func TestNameSanitisation(t *testing.T) {
	b := newBuilder()
	s, _ := b.Stage("build", JobDefaults{})
	job, err := b.Job(s, JobSpec{Name: "Unit Tests!", Command: "ok"})
	require.NoError(t, err)
	assert.Equal(t, "Unit-Tests-", job.Name)
}

func TestLinearChain(t *testing.T) {
	b := newBuilder()
	s, _ := b.Stage("S", JobDefaults{})
	_, err := b.Job(s, JobSpec{Name: "lint", Command: "ok"})
	require.NoError(t, err)
	_, err = b.Job(s, JobSpec{Name: "test", Command: "ok", After: []string{"lint"}})
	require.NoError(t, err)

	p, err := b.Build()
	require.NoError(t, err)
	test, _ := p.JobByName("test")
	assert.Equal(t, []string{"lint"}, test.Parents)
}

func TestDiamond(t *testing.T) {
	b := newBuilder()
	s, _ := b.Stage("S", JobDefaults{})
	_, _ = b.Job(s, JobSpec{Name: "a", Command: "ok"})
	_, _ = b.Job(s, JobSpec{Name: "b", Command: "ok", After: []string{"a"}})
	_, _ = b.Job(s, JobSpec{Name: "c", Command: "ok", After: []string{"a"}})
	_, err := b.Job(s, JobSpec{Name: "d", Command: "ok", After: []string{"b", "c"}})
	require.NoError(t, err)

	p, _ := b.Build()
	d, _ := p.JobByName("d")
	assert.ElementsMatch(t, []string{"b", "c"}, d.Parents)
}

func TestAggregateStatus(t *testing.T) {
	b := newBuilder()
	s, _ := b.Stage("S", JobDefaults{})
	a, _ := b.Job(s, JobSpec{Name: "a", Command: "ok"})
	bj, _ := b.Job(s, JobSpec{Name: "b", Command: "ok"})
	p, _ := b.Build()

	assert.Equal(t, StatusPending, p.AggregateStatus())

	a.State.Status = StatusRunning
	assert.Equal(t, StatusRunning, p.AggregateStatus())

	a.State.Status = StatusPassed
	assert.Equal(t, StatusPending, p.AggregateStatus())

	bj.State.Status = StatusFailed
	assert.Equal(t, StatusFailed, p.AggregateStatus())

	bj.State.Status = StatusPassed
	assert.Equal(t, StatusPassed, p.AggregateStatus())
}

func TestExternalStatusMapping(t *testing.T) {
	assert.Equal(t, ExternalPending, StatusPending.External())
	assert.Equal(t, ExternalPending, StatusRunning.External())
	assert.Equal(t, ExternalSuccess, StatusPassed.External())
	assert.Equal(t, ExternalFailure, StatusFailed.External())
	assert.Equal(t, ExternalWarning, StatusTimeout.External())
	assert.Equal(t, ExternalWarning, StatusSkipped.External())
}

func TestServiceJobNoImageFailsWithoutDefault(t *testing.T) {
	b := NewBuilder(fakeRepo{sha: "x"}, Config{})
	s, _ := b.Stage("S", JobDefaults{})
	_, err := b.Job(s, JobSpec{Name: "db", IsService: true})
	assert.Error(t, err)
}
