package repair

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/mender/internal/models"
)

var errNoCrash = errors.New("no crash records")

type fakeCrashSource struct {
	crashes map[string]*models.CrashContext
	latest  *models.CrashContext
	gotRoot string
}

func (f *fakeCrashSource) Latest(ctx context.Context, projectRoot string) (*models.CrashContext, error) {
	f.gotRoot = projectRoot
	if f.latest == nil {
		return nil, errNoCrash
	}
	return f.latest, nil
}

func (f *fakeCrashSource) Get(ctx context.Context, projectRoot, id string) (*models.CrashContext, error) {
	f.gotRoot = projectRoot
	crash, ok := f.crashes[id]
	if !ok {
		return nil, errNoCrash
	}
	return crash, nil
}

func newTestService(t *testing.T, source *fakeCrashSource, oracle *fakeOracle) (*Service, *fakeStore) {
	t.Helper()
	store := &fakeStore{}
	o := newTestOrchestrator(t, oracle, &fakeApplier{}, &fakeValidator{responses: []validateResponse{pass()}}, store, nil)
	return NewService(source, o), store
}

func TestService_RunRepairLatest(t *testing.T) {
	source := &fakeCrashSource{latest: testCrash()}
	svc, store := newTestService(t, source, &fakeOracle{responses: []oracleResponse{okPatch("a")}})

	out, err := svc.RunRepair(context.Background(), "/tmp/project", RunOptions{Options: DefaultOptions()})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, "crash_20260217_052359", out.CrashID)
	assert.Equal(t, "/tmp/project", source.gotRoot)
	assert.Len(t, store.puts, 1)
}

func TestService_RunRepairByID(t *testing.T) {
	older := testCrash()
	older.ID = "crash_20250101_000000"
	source := &fakeCrashSource{
		latest:  testCrash(),
		crashes: map[string]*models.CrashContext{older.ID: older},
	}
	svc, _ := newTestService(t, source, &fakeOracle{responses: []oracleResponse{okPatch("a")}})

	out, err := svc.RunRepair(context.Background(), "/tmp/project", RunOptions{Options: DefaultOptions(), CrashID: older.ID})
	require.NoError(t, err)
	assert.Equal(t, older.ID, out.CrashID)
}

func TestService_RunRepairErrors(t *testing.T) {
	tests := []struct {
		name    string
		opts    RunOptions
		wantErr string
		wantIs  error
	}{
		{"no latest crash", RunOptions{Options: DefaultOptions()}, "locate latest crash", errNoCrash},
		{"unknown crash id", RunOptions{Options: DefaultOptions(), CrashID: "crash_x"}, "load crash crash_x", errNoCrash},
		{"invalid options", RunOptions{}, "max iterations must be > 0", ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := &fakeOracle{responses: []oracleResponse{okPatch("a")}}
			svc, store := newTestService(t, &fakeCrashSource{}, oracle)

			out, err := svc.RunRepair(context.Background(), "/tmp/project", tt.opts)
			require.Error(t, err)
			assert.Nil(t, out)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.ErrorIs(t, err, tt.wantIs)
			assert.Empty(t, oracle.requests)
			assert.Empty(t, store.puts)
		})
	}
}
