package main

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/mirkobrombin/go-ward/v1/lock"
)

func TestCommandRunnerMapsConflictCode(t *testing.T) {
	run := commandRunner([]string{"sh", "-c", "exit 75"}, "k", exitTempFail)
	err := run(context.Background())
	require.True(t, lock.IsConflict(err))

	run = commandRunner([]string{"sh", "-c", "exit 3"}, "k", exitTempFail)
	err = run(context.Background())
	require.False(t, lock.IsConflict(err))
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, 3, exitErr.ExitCode())

	run = commandRunner([]string{"sh", "-c", "exit 75"}, "k", 0)
	require.False(t, lock.IsConflict(run(context.Background())))
}

func TestCommandRunnerExportsKey(t *testing.T) {
	run := commandRunner([]string{"sh", "-c", `test "$WARD_LOCK_KEY" = "admission:create:1"`}, "admission:create:1", 0)
	require.NoError(t, run(context.Background()))
}

func TestOpenWardMemory(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("backend", "memory")
	viper.Set("bus", "auto")

	w, closeWard, err := openWard(context.Background())
	require.NoError(t, err)
	defer closeWard()

	calls := 0
	err = w.Run(context.Background(), "k", 0, 3, func(context.Context) error {
		calls++
		if calls == 1 {
			return lock.Conflict(nil)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestOpenWardRejectsUnknownBackend(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("backend", "zookeeper")
	viper.Set("bus", "auto")

	_, _, err := openWard(context.Background())
	require.ErrorContains(t, err, "zookeeper")

	viper.Set("backend", "memory")
	viper.Set("bus", "carrier-pigeon")
	_, _, err = openWard(context.Background())
	require.ErrorContains(t, err, "carrier-pigeon")
}

func TestSplitList(t *testing.T) {
	require.Equal(t, []string{"a:1", "b:2"}, splitList(" a:1, ,b:2 "))
	require.Nil(t, splitList(""))
}
