package migrate

import (
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const schemaMigrationFiles = 6

// fakeSchema records the calls made against it and fails with err on any.
type fakeSchema struct {
	err     error
	steps   int
	version uint
	dirty   bool
	verErr  error
	calls   []string
}

func (f *fakeSchema) Up() error {
	f.calls = append(f.calls, "up")
	return f.err
}

func (f *fakeSchema) Down() error {
	f.calls = append(f.calls, "down")
	return f.err
}

func (f *fakeSchema) Steps(n int) error {
	f.calls = append(f.calls, "steps")
	f.steps = n
	return f.err
}

func (f *fakeSchema) Version() (version uint, dirty bool, err error) {
	f.calls = append(f.calls, "version")
	return f.version, f.dirty, f.verErr
}

// useSchema swaps the migrator factory for the duration of the test.
func useSchema(t *testing.T, fake *fakeSchema, factoryErr error) {
	t.Helper()
	orig := migratorFactory
	t.Cleanup(func() { migratorFactory = orig })
	migratorFactory = func(*sql.DB) (migrator, error) {
		if factoryErr != nil {
			return nil, factoryErr
		}
		return fake, nil
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)
	assert.Len(t, entries, schemaMigrationFiles)

	expectedFiles := []string{
		"000001_claims.up.sql",
		"000001_claims.down.sql",
		"000002_directories.up.sql",
		"000002_directories.down.sql",
		"000003_claims_indexes.up.sql",
		"000003_claims_indexes.down.sql",
	}

	fileNames := make(map[string]bool)
	for _, e := range entries {
		fileNames[e.Name()] = true
	}

	for _, expected := range expectedFiles {
		assert.True(t, fileNames[expected], "expected migration file %s to exist", expected)
	}
}

func TestMigrationsCreateQueriedTables(t *testing.T) {
	var up strings.Builder
	for _, f := range []string{"000001_claims.up.sql", "000002_directories.up.sql"} {
		content, err := migrations.ReadFile("migrations/" + f)
		require.NoError(t, err)
		up.Write(content)
	}

	for _, table := range []string{"claims", "providers", "hcpcs_codes"} {
		assert.Contains(t, up.String(), "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
	assert.Contains(t, up.String(), "total_paid    NUMERIC(18,2)")
}

func TestMigrationPairsAreReversible(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)

	dropRe := regexp.MustCompile(`DROP (TABLE|INDEX) IF EXISTS`)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".down.sql") {
			continue
		}
		content, err := migrations.ReadFile("migrations/" + name)
		require.NoError(t, err)
		assert.Regexp(t, dropRe, string(content), "down migration %s should drop what its up migration creates", name)

		upName := strings.TrimSuffix(name, ".down.sql") + ".up.sql"
		_, err = migrations.ReadFile("migrations/" + upName)
		assert.NoError(t, err, "missing %s", upName)
	}
}

func TestOperations(t *testing.T) {
	errLocked := errors.New("pg_advisory_lock timeout")

	operations := map[string]struct {
		call    func() error
		wrapped string
	}{
		"run":   {call: func() error { return Run(nil) }, wrapped: "running migrations"},
		"down":  {call: func() error { return Down(nil) }, wrapped: "rolling back migrations"},
		"steps": {call: func() error { return Steps(nil, -1) }, wrapped: "stepping migrations"},
	}

	for name, op := range operations {
		t.Run(name+" applies", func(t *testing.T) {
			fake := &fakeSchema{version: 3}
			useSchema(t, fake, nil)
			require.NoError(t, op.call())
			assert.NotEmpty(t, fake.calls)
		})

		t.Run(name+" treats no change as success", func(t *testing.T) {
			useSchema(t, &fakeSchema{err: migrate.ErrNoChange, version: 3}, nil)
			assert.NoError(t, op.call())
		})

		t.Run(name+" wraps migrator errors", func(t *testing.T) {
			useSchema(t, &fakeSchema{err: errLocked}, nil)
			err := op.call()
			require.ErrorIs(t, err, errLocked)
			assert.Contains(t, err.Error(), op.wrapped)
		})

		t.Run(name+" surfaces factory errors", func(t *testing.T) {
			useSchema(t, nil, errLocked)
			assert.ErrorIs(t, op.call(), errLocked)
		})
	}
}

func TestRunReadsVersionAfterUp(t *testing.T) {
	fake := &fakeSchema{version: 3}
	useSchema(t, fake, nil)

	require.NoError(t, Run(nil))
	assert.Equal(t, []string{"up", "version"}, fake.calls)
}

func TestRunVersionOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		fake    *fakeSchema
		wantErr string
	}{
		{name: "empty database", fake: &fakeSchema{verErr: migrate.ErrNilVersion}},
		{name: "dirty state only warns", fake: &fakeSchema{version: 2, dirty: true}},
		{name: "version lookup fails", fake: &fakeSchema{verErr: errors.New("relation missing")}, wantErr: "getting migration version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useSchema(t, tt.fake, nil)
			err := Run(nil)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStepsPassesCount(t *testing.T) {
	fake := &fakeSchema{}
	useSchema(t, fake, nil)

	require.NoError(t, Steps(nil, -2))
	assert.Equal(t, -2, fake.steps)
}

func TestVersion(t *testing.T) {
	useSchema(t, &fakeSchema{version: 3, dirty: true}, nil)
	version, dirty, err := Version(nil)
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)
	assert.True(t, dirty)

	useSchema(t, nil, errors.New("dial tcp: connection refused"))
	_, _, err = Version(nil)
	assert.ErrorContains(t, err, "connection refused")
}
