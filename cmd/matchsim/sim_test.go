package main

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"wordduel/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPlacesEveryPlayer(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), options{
		players:    9,
		tier:       "beginner",
		dbPath:     "file::memory:",
		retryDelay: time.Millisecond,
		attempts:   10,
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "players: 9")
	assert.NotContains(t, out.String(), "unmatched")
}

func TestRunPlacesEveryPlayerWithDefaultAttempts(t *testing.T) {
	// Below three full teams nobody can lose three races in a row.
	for _, n := range []int{2, 5, 9, 11} {
		n := n
		t.Run(fmt.Sprintf("%d players", n), func(t *testing.T) {
			var out bytes.Buffer
			err := run(context.Background(), options{
				players:    n,
				tier:       "intermediate",
				dbPath:     "file::memory:",
				retryDelay: time.Millisecond,
				attempts:   services.DefaultMaxAttempts,
			}, &out)
			require.NoError(t, err)
			assert.Contains(t, out.String(), fmt.Sprintf("players: %d", n))
			assert.Contains(t, out.String(), "failed: 0")
		})
	}
}

func TestRunRejectsUnknownTier(t *testing.T) {
	err := run(context.Background(), options{players: 1, tier: "mythic", dbPath: "file::memory:"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestReportVerify(t *testing.T) {
	ok := &report{
		Players:   5,
		TeamSizes: map[string]int{"a": 4, "b": 1},
		Placed:    map[string]string{"1": "a", "2": "a", "3": "a", "4": "a", "5": "b"},
	}
	assert.NoError(t, ok.verify())

	over := &report{
		Players:   5,
		TeamSizes: map[string]int{"a": 5},
		Placed:    map[string]string{"1": "a", "2": "a", "3": "a", "4": "a", "5": "a"},
	}
	assert.ErrorContains(t, over.verify(), "capacity")

	missing := &report{
		Players:   3,
		TeamSizes: map[string]int{"a": 2},
		Placed:    map[string]string{"1": "a", "2": "a"},
	}
	assert.ErrorContains(t, missing.verify(), "unaccounted")
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"-n", "4", "--tier", "advanced", "--retry-delay", "1ms"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "players: 4")
	assert.Contains(t, out.String(), "failed: 0")
}
