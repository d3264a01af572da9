package ingest_test

import (
	"testing"

	"driveingest/internal/ingest"
	"driveingest/internal/remote"
	"driveingest/internal/seen"
	"driveingest/internal/testutil"
)

// testEnv is a Service over in-memory collaborators.
type testEnv struct {
	svc    *ingest.Service
	db     ingest.Database
	remote *remote.MemoryDirectory
	seen   *seen.MemoryStore
	pub    *testutil.RecordingPublisher
	logger *testutil.RecordingLogger
	clock  *testutil.StubClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := testutil.FixedClock()
	env := &testEnv{
		db:     testutil.NewTestDatabase(t),
		remote: testutil.NewTestRemote(clock),
		seen:   seen.NewMemoryStore(0),
		pub:    testutil.NewRecordingPublisher(),
		logger: testutil.NewRecordingLogger(),
		clock:  clock,
	}
	env.svc = ingest.NewService(env.db, env.remote, env.seen, env.pub, env.logger, clock, testutil.NewStubIDGenerator())
	return env
}

func ids[T any](items []T, id func(T) string) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = id(it)
	}
	return out
}
