package registry

import (
	"errors"
	"testing"

	"github.com/0xPuncker/periodic/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Connect("Newsletters", "PT15M", "Newsletter", "", nil))
	require.NoError(t, reg.Connect("CleanUp", "next day 05:00", "CleanUp", "purge", []any{"tmp", 3}))
	require.NoError(t, reg.Connect("Backup", "1 day", "shell", "main", []any{"backup.sh"}))

	assert.Equal(t, []string{"Newsletters", "CleanUp", "Backup"}, reg.Names())
	assert.Equal(t, 3, reg.Len())

	jobs := reg.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, "CleanUp", jobs[1].Name)
	assert.Equal(t, "purge", jobs[1].Action)
	assert.Equal(t, []any{"tmp", 3}, jobs[1].Args)
}

func TestRegistryDefaults(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(types.JobDefinition{Name: "Ping", Interval: "5m", Task: "echo"}))

	job, ok := reg.Get("Ping")
	require.True(t, ok)
	assert.Equal(t, types.DefaultAction, job.Action)
	assert.Equal(t, []any{}, job.Args)
	assert.Nil(t, job.LastRun)
	assert.JSONEq(t, `""`, string(job.LastResult))
}

func TestRegistryRejectsInvalidJobs(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Connect("Ping", "5m", "echo", "main", nil))

	err := reg.Connect("Ping", "10m", "echo", "main", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateJob))

	err = reg.Connect("  ", "10m", "echo", "main", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidJob))

	assert.Equal(t, 1, reg.Len())
	assert.False(t, reg.Has("  "))
}

func TestJobsReturnsCopy(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Connect("Ping", "5m", "echo", "main", nil))

	jobs := reg.Jobs()
	jobs[0].Interval = "1h"

	job, _ := reg.Get("Ping")
	assert.Equal(t, "5m", job.Interval)
}
