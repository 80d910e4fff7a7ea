package console

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/guseggert/extscript/host"
	xnet "github.com/guseggert/extscript/internal/net"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type testConsole struct {
	host        *host.Host
	hostOut     *bytes.Buffer
	client      *Client
	capturePath string
}

func newTestConsole(t *testing.T) *testConsole {
	hostOut := &bytes.Buffer{}
	h := host.New(host.WithOutput(hostOut), host.WithImagePath("/boot/vmlinux"))
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "console_test_total", Help: "test"})
	counter.Inc()
	reg.MustRegister(counter)

	capturePath := filepath.Join(t.TempDir(), "command.out")
	// the server logs from handler goroutines that can outlive the test
	srv, err := NewServer(h,
		WithLogger(zap.NewNop()),
		WithCapturePath(capturePath),
		WithGatherer(reg),
	)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client := NewClient(ts.URL, WithClientLogger(zaptest.NewLogger(t)))
	require.NoError(t, client.WaitForServer(context.Background()))
	return &testConsole{host: h, hostOut: hostOut, client: client, capturePath: capturePath}
}

func TestExec(t *testing.T) {
	cases := []struct {
		name       string
		args       []string
		expOutput  string
		expError   string
		expAborted bool
	}{
		{name: "echo", args: []string{"echo", "hi", "there"}, expOutput: "hi there\n"},
		{name: "sys", args: []string{"sys"}, expOutput: "  IMAGE: /boot/vmlinux\n"},
		{name: "unknown", args: []string{"nope"}, expOutput: "nope: command not found\n", expError: "command not found: nope"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			tc := newTestConsole(t)
			resp, err := tc.client.Exec(context.Background(), c.args...)
			require.NoError(t, err)
			assert.True(t, resp.Done)
			assert.Equal(t, c.expOutput, string(resp.Output))
			assert.Equal(t, c.expError, resp.Error)
			assert.Equal(t, c.expAborted, resp.Aborted)
			// the host output is restored afterwards
			assert.Empty(t, tc.hostOut.String())
		})
	}
}

func TestExecAbort(t *testing.T) {
	tc := newTestConsole(t)
	require.NoError(t, tc.host.Register(host.Command{
		Name: "die",
		Func: func(ctx context.Context, h *host.Host, args []string) error {
			return h.Fatalf("dead")
		},
	}))

	resp, err := tc.client.Exec(context.Background(), "die")
	require.NoError(t, err)
	assert.True(t, resp.Aborted)
	assert.Equal(t, "fatal: dead\n", string(resp.Output))
}

func TestSessionStreamsCommands(t *testing.T) {
	ctx := context.Background()
	tc := newTestConsole(t)

	sess, err := tc.client.OpenSession(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	out := &bytes.Buffer{}
	resp, err := sess.Exec(ctx, out, "echo", "one")
	require.NoError(t, err)
	assert.Empty(t, resp.Error)

	resp, err = sess.Exec(ctx, out, "help", "echo")
	require.NoError(t, err)
	assert.Empty(t, resp.Error)

	// larger than one output message, so it arrives in chunks
	big := strings.Repeat("z", readLimit/2)
	resp, err = sess.Exec(ctx, out, "echo", big)
	require.NoError(t, err)
	assert.Empty(t, resp.Error)

	assert.True(t, strings.HasPrefix(out.String(), "one\nNAME\n  echo - echo the arguments"))
	assert.True(t, strings.HasSuffix(out.String(), big+"\n"))
}

func TestCapture(t *testing.T) {
	ctx := context.Background()
	tc := newTestConsole(t)

	_, err := tc.client.ReadCapture(ctx)
	assert.ErrorIs(t, err, ErrNoCapture)

	require.NoError(t, os.WriteFile(tc.capturePath, []byte("captured\n"), 0o644))
	got, err := tc.client.ReadCapture(ctx)
	require.NoError(t, err)
	assert.Equal(t, "captured\n", got)
}

func TestMetrics(t *testing.T) {
	tc := newTestConsole(t)

	resp, err := tc.client.HTTPClient.Get(tc.client.baseURL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body := readBody(resp.Body)
	assert.Contains(t, body, "console_test_total 1")
}

func TestHeartbeatFailsWithoutServer(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()

	client := NewClient(url, WithCustomizeRetryableClient(func(r *retryablehttp.Client) {
		r.RetryMax = 0
	}))
	err := client.SendHeartbeat(context.Background())
	assert.Error(t, err)
}

func TestRunAndStop(t *testing.T) {
	port, err := xnet.GetEphemeralTCPPort()
	require.NoError(t, err)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	h := host.New(host.WithOutput(&bytes.Buffer{}))
	srv, err := NewServer(h, WithLogger(zap.NewNop()), WithListenAddr(addr))
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run() }()

	client := NewClient("http://"+addr, WithClientLogger(zaptest.NewLogger(t)))
	require.NoError(t, client.WaitForServer(context.Background()))
	resp, err := client.Exec(context.Background(), "echo", "up")
	require.NoError(t, err)
	assert.Equal(t, "up\n", string(resp.Output))

	require.NoError(t, srv.Stop())
	assert.NoError(t, <-runErr)
}
