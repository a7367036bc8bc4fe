package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/lotkeep/internal/config"
	"github.com/roach88/lotkeep/internal/engine"
	"github.com/roach88/lotkeep/internal/remote/memstore"
	"github.com/roach88/lotkeep/internal/store"
)

// envNames are the variables config.Load reads.
var envNames = []string{
	"LOTKEEP_FACILITY_NAME",
	"LOTKEEP_MAX_CAPACITY",
	"LOTKEEP_REQUIRE_REGISTERED_PLATE",
	"LOTKEEP_QUEUE_PATH",
	"LOTKEEP_DATABASE_URL",
	"LOTKEEP_LISTEN_ADDR",
	"LOTKEEP_SYNC_INTERVAL",
	"LOTKEEP_PROBE_INTERVAL",
	"LOTKEEP_BACKOFF_BASE",
	"LOTKEEP_BACKOFF_MAX",
	"LOTKEEP_BACKOFF_MAX_ATTEMPTS",
	"LOTKEEP_NOTIFY_PROVIDER",
	"TWILIO_ACCOUNT_SID",
	"TWILIO_AUTH_TOKEN",
	"TWILIO_FROM_NUMBER",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
}

const testPolicy = `facility_name: Test Lot
max_capacity: 2
require_registered_plate: false
listen_addr: 127.0.0.1:0
sync_interval: 1h
notify:
  provider: noop
`

// fixture is a policy file, a queue path and an in-memory remote store.
type fixture struct {
	dir        string
	queuePath  string
	configPath string
	remote     *memstore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	for _, name := range envNames {
		t.Setenv(name, "")
	}

	dir := t.TempDir()
	fx := &fixture{
		dir:        dir,
		queuePath:  filepath.Join(dir, "queue.db"),
		configPath: filepath.Join(dir, "lot.yaml"),
		remote:     memstore.New(),
	}
	policy := testPolicy + "queue_path: " + fx.queuePath + "\n"
	require.NoError(t, os.WriteFile(fx.configPath, []byte(policy), 0o644))
	return fx
}

func (fx *fixture) connect(context.Context, config.Config, *slog.Logger) (RemoteStore, func(), error) {
	return fx.remote, func() {}, nil
}

// run executes the CLI with the fixture's policy file and returns stdout.
func (fx *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(&RootOptions{Connect: fx.connect})
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", fx.configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// openStore opens the fixture's queue directly.
func (fx *fixture) openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(fx.queuePath)
	require.NoError(t, err)
	return st
}

// checkInOffline admits plates through an offline gate, leaving their
// writes in the queue.
func (fx *fixture) checkInOffline(t *testing.T, plates ...string) {
	t.Helper()
	st := fx.openStore(t)
	defer st.Close()

	f := engine.New(st, st, nil,
		engine.WithCapacity(2),
		engine.WithConnectivity(offline{}),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	for _, plate := range plates {
		_, err := f.CheckIn(context.Background(), engine.CheckInRequest{Plate: plate})
		require.NoError(t, err)
	}
}

// syncBuffer is a bytes.Buffer safe for a writer and a concurrent reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
