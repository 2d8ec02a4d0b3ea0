package cmd

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricealert/internal/store"
)

type fakeApp struct {
	closed     bool
	started    bool
	migrateErr error
	ran        []string
	runErr     error
}

func (f *fakeApp) Close() { f.closed = true }
func (f *fakeApp) GetLogger() *zap.Logger { return zap.NewNop() }
func (f *fakeApp) Addr() string { return "127.0.0.1:0" }
func (f *fakeApp) Handler() http.Handler { return http.NotFoundHandler() }
func (f *fakeApp) Start(_ context.Context) { f.started = true }
func (f *fakeApp) Migrate(_ context.Context) error {
	return f.migrateErr
}

func (f *fakeApp) RunJob(_ context.Context, job string) (store.Run, error) {
	f.ran = append(f.ran, job)
	state := store.RunSucceeded
	if f.runErr != nil {
		state = store.RunFailedPermanently
	}
	return store.Run{ID: uuid.New(), Job: job, State: state, Attempts: 1}, f.runErr
}

// withFakeApp swaps the factory; tests using it must not run in parallel.
func withFakeApp(t *testing.T, fake *fakeApp) {
	t.Helper()
	orig := newApp
	newApp = func(context.Context, string) (App, error) { return fake, nil }
	t.Cleanup(func() { newApp = orig })
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommandPrintsRun(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)

	out, err := execute("run", "price_refresh")
	require.NoError(t, err)
	assert.Equal(t, []string{"price_refresh"}, fake.ran)
	assert.Contains(t, out, `"state": "succeeded"`)
	assert.True(t, fake.closed)
}

func TestRunCommandReportsFailure(t *testing.T) {
	fake := &fakeApp{runErr: errors.New("marketplace down")}
	withFakeApp(t, fake)

	out, err := execute("run", "alert_evaluation")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marketplace down")
	assert.Contains(t, out, `"state": "failed_permanently"`)
}

func TestRunCommandRequiresJob(t *testing.T) {
	withFakeApp(t, &fakeApp{})

	_, err := execute("run")
	assert.Error(t, err)
}

func TestMigrateCommand(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)

	_, err := execute("migrate")
	require.NoError(t, err)

	fake.migrateErr = errors.New("no database")
	_, err = execute("migrate")
	assert.Error(t, err)
}

func TestServeStopsOnCancel(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)

	root := newRootCmd()
	root.SetArgs([]string{"serve"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, root.ExecuteContext(ctx))
	assert.True(t, fake.started)
	assert.True(t, fake.closed)
}

func TestFactoryError(t *testing.T) {
	orig := newApp
	newApp = func(context.Context, string) (App, error) { return nil, errors.New("bad config") }
	t.Cleanup(func() { newApp = orig })

	_, err := execute("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad config")
}

func TestResolveAppWithoutApp(t *testing.T) {
	_, err := resolveApp(context.Background())
	assert.Error(t, err)
}
