package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

type fakeMigrator struct {
	upSteps   int
	downSteps int
	version   int64
	applied   int
	pending   []string
	err       error
}

func (f *fakeMigrator) MigrateUp(_ context.Context, steps int) error {
	f.upSteps = steps
	return f.err
}

func (f *fakeMigrator) MigrateDown(_ context.Context, steps int) error {
	f.downSteps = steps
	return f.err
}

func (f *fakeMigrator) MigrationStatus(context.Context) (int64, int, error) {
	return f.version, f.applied, nil
}

func (f *fakeMigrator) PendingMigrations(context.Context) ([]string, error) {
	return f.pending, f.err
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		env     map[string]string
		want    options
		wantErr string
	}{
		{
			name: "defaults to up with env dsn",
			env:  map[string]string{envPostgresDSN: " postgres://env "},
			want: options{command: "up", dsn: "postgres://env"},
		},
		{
			name: "flag dsn wins",
			args: []string{"-direction=STATUS", "-dsn=postgres://flag"},
			env:  map[string]string{envPostgresDSN: "postgres://env"},
			want: options{command: "status", dsn: "postgres://flag"},
		},
		{
			name: "down defaults to one step",
			args: []string{"-direction=down", "-dsn=postgres://flag"},
			want: options{command: "down", steps: 1, dsn: "postgres://flag"},
		},
		{
			name:    "missing dsn",
			args:    []string{"-direction=status"},
			wantErr: errDSNRequired.Error(),
		},
		{
			name:    "unsupported direction",
			args:    []string{"-direction=sideways", "-dsn=postgres://flag"},
			wantErr: "unsupported direction",
		},
		{
			name:    "negative steps",
			args:    []string{"-steps=-2", "-dsn=postgres://flag"},
			wantErr: "steps must be non-negative",
		},
		{
			name:    "unknown flag",
			args:    []string{"-force"},
			wantErr: "flag provided but not defined",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseArgs(tc.args, lookupFrom(tc.env))
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("up reports status", func(t *testing.T) {
		m := &fakeMigrator{version: 3, applied: 3}
		var out bytes.Buffer
		require.NoError(t, execute(ctx, m, options{command: "up", steps: 2}, &out))
		require.Equal(t, 2, m.upSteps)
		require.Equal(t, "migrate up ok: version=3 applied=3\n", out.String())
	})

	t.Run("down", func(t *testing.T) {
		m := &fakeMigrator{version: 2, applied: 2}
		var out bytes.Buffer
		require.NoError(t, execute(ctx, m, options{command: "down", steps: 1}, &out))
		require.Equal(t, 1, m.downSteps)
		require.Contains(t, out.String(), "migrate down ok")
	})

	t.Run("status", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, execute(ctx, &fakeMigrator{version: 1, applied: 1}, options{command: "status"}, &out))
		require.Equal(t, "migration status: version=1 applied=1\n", out.String())
	})

	t.Run("pending", func(t *testing.T) {
		var out bytes.Buffer
		m := &fakeMigrator{pending: []string{"0002_delivery_log.up.sql", "0003_outbox_index.up.sql"}}
		require.NoError(t, execute(ctx, m, options{command: "pending"}, &out))
		require.Equal(t, "0002_delivery_log.up.sql\n0003_outbox_index.up.sql\n", out.String())

		out.Reset()
		require.NoError(t, execute(ctx, &fakeMigrator{}, options{command: "pending"}, &out))
		require.Equal(t, "no pending migrations\n", out.String())
	})

	t.Run("error is wrapped", func(t *testing.T) {
		boom := errors.New("boom")
		err := execute(ctx, &fakeMigrator{err: boom}, options{command: "up"}, &bytes.Buffer{})
		require.ErrorIs(t, err, boom)
		require.Contains(t, err.Error(), "migrate up failed")
	})
}

func TestRunMissingDSN(t *testing.T) {
	err := run([]string{"-direction=status"}, lookupFrom(nil), &bytes.Buffer{})
	require.ErrorIs(t, err, errDSNRequired)
}

func TestFailExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	require.Error(t, err)

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	require.NotZero(t, exitErr.ExitCode())
}
