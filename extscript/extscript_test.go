package extscript_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/guseggert/extscript/extscript"
	"github.com/guseggert/extscript/host"
	xnet "github.com/guseggert/extscript/internal/net"
	"github.com/guseggert/extscript/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type harness struct {
	out         *bytes.Buffer
	host        *host.Host
	ctrl        *extscript.Controller
	reg         *prometheus.Registry
	reportPath  string
	capturePath string
	// aborts that reached the host's own top-level handler
	topLevel int
}

func newHarness(t *testing.T, hostOpts []host.Option, opts ...extscript.Option) *harness {
	dir := t.TempDir()
	sock, cleanup, err := xnet.TempUnixSocketPath("sock")
	require.NoError(t, err)
	t.Cleanup(cleanup)

	hs := &harness{
		out:         &bytes.Buffer{},
		reg:         prometheus.NewRegistry(),
		reportPath:  filepath.Join(dir, "report.json"),
		capturePath: filepath.Join(dir, "command.out"),
	}
	hostOpts = append([]host.Option{
		host.WithOutput(hs.out),
		host.WithLogger(zaptest.NewLogger(t)),
		host.WithContinuation(host.ContinuationFunc(func(err *host.AbortError) error {
			hs.topLevel++
			return err
		})),
	}, hostOpts...)
	hs.host = host.New(hostOpts...)

	exe, err := os.Executable()
	require.NoError(t, err)
	opts = append([]extscript.Option{
		extscript.WithLogger(zaptest.NewLogger(t)),
		extscript.WithSocketPath(sock),
		extscript.WithCapturePath(hs.capturePath),
		extscript.WithStartupDelay(10 * time.Millisecond),
		extscript.WithRetries(2000),
		extscript.WithRetryPause(5 * time.Millisecond),
		extscript.WithShutdownGrace(5 * time.Second),
		extscript.WithRegisterer(hs.reg),
		extscript.WithRunnerEnv(envRunner+"=serve", envReport+"="+hs.reportPath),
	}, opts...)
	hs.ctrl, err = extscript.New(hs.host, opts...)
	require.NoError(t, err)
	require.NoError(t, hs.ctrl.Configure(extscript.Script{File: exe, Args: []string{exe}}))
	require.NoError(t, hs.host.Register(hs.ctrl.Command()))
	return hs
}

// report returns what the runner observed, starting with the bypass directive it received.
func (hs *harness) report(t *testing.T) []string {
	b, err := os.ReadFile(hs.reportPath)
	require.NoError(t, err)
	var observed []string
	require.NoError(t, json.Unmarshal(b, &observed))
	return observed
}

func assertGone(t *testing.T, pid int) {
	require.NotZero(t, pid)
	err := syscall.Kill(pid, 0)
	assert.ErrorIs(t, err, syscall.ESRCH)
}

func TestHelpEndToEnd(t *testing.T) {
	ctx := context.Background()
	hs := newHarness(t, nil)

	res, err := hs.ctrl.Run(ctx, "help")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, 2, res.Commands)
	assert.False(t, res.Aborted)
	assert.NotEmpty(t, res.SessionID)
	assertGone(t, res.Pid)

	echo, ok := hs.host.Lookup("echo")
	require.True(t, ok)
	observed := hs.report(t)
	require.Len(t, observed, 3)
	assert.Equal(t, host.FormatHelp(echo), observed[1])
	// no arguments runs nothing
	assert.Equal(t, "", observed[2])

	// the delegated output went to the capture file only
	assert.NotContains(t, hs.out.String(), "NAME")

	require.NoError(t, hs.host.Exec(ctx, []string{"echo", "back"}))
	assert.Equal(t, "back\n", hs.out.String())
}

func TestBypassThroughHostCommand(t *testing.T) {
	ctx := context.Background()
	hs := newHarness(t, nil)

	require.NoError(t, hs.host.Exec(ctx, []string{"extscript", "-b", "done"}))
	assert.Equal(t, []string{"done"}, hs.report(t))
	assert.Empty(t, hs.out.String())

	expected := `
# HELP extscript_sessions_total Runner sessions by outcome.
# TYPE extscript_sessions_total counter
extscript_sessions_total{outcome="ok"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(hs.reg, strings.NewReader(expected), "extscript_sessions_total"))
}

func TestEmptyBypassIsForwarded(t *testing.T) {
	hs := newHarness(t, nil)

	require.NoError(t, hs.host.Exec(context.Background(), []string{"extscript", "-b", ""}))
	assert.Equal(t, []string{""}, hs.report(t))
	assert.Empty(t, hs.out.String())
}

func TestImagePath(t *testing.T) {
	cases := []struct {
		name  string
		image string
	}{
		{name: "loaded", image: "/boot/vmlinux-6.1.0"},
		{name: "unset", image: ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			hs := newHarness(t, []host.Option{host.WithImagePath(c.image)})

			res, err := hs.ctrl.Run(context.Background(), "image")
			require.NoError(t, err)
			assert.Equal(t, 0, res.ExitCode)
			assert.Equal(t, []string{"image", c.image}, hs.report(t))
		})
	}
}

func TestTokenCapacity(t *testing.T) {
	hs := newHarness(t, nil)

	res, err := hs.ctrl.Run(context.Background(), "overflow")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, 2, res.Commands)
	assert.Equal(t, 1, res.Overflows)

	observed := hs.report(t)
	require.Len(t, observed, 4)
	assert.Equal(t, strings.Repeat("x ", 48)+"x\n", observed[1])
	assert.Contains(t, observed[2], "protocol overflow")
	assert.NotContains(t, observed[2], "y")
	assert.Equal(t, "after\n", observed[3])
}

func TestDelegatedCommandErrorKeepsSession(t *testing.T) {
	hs := newHarness(t, nil)

	res, err := hs.ctrl.Run(context.Background(), "error")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	observed := hs.report(t)
	require.Len(t, observed, 3)
	assert.Equal(t, "nosuch: command not found\n", observed[1])
	assert.Equal(t, "ok\n", observed[2])
}

func TestNestedSessionRejected(t *testing.T) {
	hs := newHarness(t, nil)

	res, err := hs.ctrl.Run(context.Background(), "nested")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	observed := hs.report(t)
	require.Len(t, observed, 2)
	assert.Contains(t, observed[1], extscript.ErrSessionActive.Error())
}

func TestAbortCleanup(t *testing.T) {
	cases := []struct {
		name string
		cmd  string
	}{
		{name: "fatal", cmd: "sys"},
		{name: "panic", cmd: "boom"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ctx := context.Background()
			hs := newHarness(t, nil)
			require.NoError(t, hs.host.Register(host.Command{
				Name: "boom",
				Func: func(ctx context.Context, h *host.Host, args []string) error { panic("boom") },
			}))

			// every abort is recovered, not just the first
			for i := 1; i <= 2; i++ {
				res, err := hs.ctrl.Run(ctx, "abort-"+c.cmd)
				require.Error(t, err)
				assert.True(t, host.IsAbort(err))
				require.NotNil(t, res)
				assert.True(t, res.Aborted)
				assert.Equal(t, i, hs.topLevel)
				assertGone(t, res.Pid)

				_, statErr := os.Stat(hs.capturePath)
				assert.True(t, errors.Is(statErr, os.ErrNotExist))
				assert.Same(t, hs.out, hs.host.Output())
			}

			// a later unrelated abort reaches the host's own handler
			err := hs.host.Exec(ctx, []string{"sys"})
			assert.True(t, host.IsAbort(err))
			assert.Equal(t, 3, hs.topLevel)
		})
	}
}

func TestAbortThroughHostCommand(t *testing.T) {
	ctx := context.Background()
	hs := newHarness(t, nil)

	err := hs.host.Exec(ctx, []string{"extscript", "-b", "abort-sys"})
	assert.True(t, host.IsAbort(err))
	assert.Equal(t, 1, hs.topLevel)
	// aborts are reported by the handler, not by the executor
	assert.NotContains(t, hs.out.String(), "extscript:")
}

func TestBindFailureReapsRunner(t *testing.T) {
	hs := newHarness(t, nil,
		extscript.WithRetries(5),
		extscript.WithRetryPause(time.Millisecond),
		extscript.WithRunnerEnv(envRunner+"=exit"),
	)

	res, err := hs.ctrl.Run(context.Background(), "done")
	assert.ErrorIs(t, err, extscript.ErrBind)
	assert.ErrorIs(t, err, transport.ErrConnect)
	require.NotNil(t, res)
	assertGone(t, res.Pid)
}

func TestCommandConfiguration(t *testing.T) {
	ctx := context.Background()
	long := strings.Repeat("a", 200)
	cases := []struct {
		name     string
		args     []string
		expErr   error
		expected extscript.Script
	}{
		{
			name:     "file and args",
			args:     []string{"extscript", "-f", "perl", "-a", "perl", "-a", "./runner.pl"},
			expected: extscript.Script{File: "perl", Args: []string{"perl", "./runner.pl"}},
		},
		{
			name:     "long flags",
			args:     []string{"extscript", "--file", "python3", "--arg", "python3"},
			expected: extscript.Script{File: "python3", Args: []string{"python3"}},
		},
		{
			name:     "commas are kept",
			args:     []string{"extscript", "-f", "x", "-a", "a,b"},
			expected: extscript.Script{File: "x", Args: []string{"a,b"}},
		},
		{
			name:   "too many args",
			args:   []string{"extscript", "-f", "x", "-a", "1", "-a", "2", "-a", "3"},
			expErr: extscript.ErrTooManyArgs,
		},
		{
			name:   "arg too long",
			args:   []string{"extscript", "-f", "x", "-a", long},
			expErr: extscript.ErrArgTooLong,
		},
		{
			name:   "file too long",
			args:   []string{"extscript", "-f", long},
			expErr: extscript.ErrArgTooLong,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			h := host.New(host.WithOutput(out))
			ctrl, err := extscript.New(h, extscript.WithLogger(zaptest.NewLogger(t)))
			require.NoError(t, err)
			require.NoError(t, h.Register(ctrl.Command()))

			err = h.Exec(ctx, c.args)
			if c.expErr != nil {
				assert.ErrorIs(t, err, c.expErr)
				assert.Contains(t, out.String(), "extscript: ")
				assert.False(t, ctrl.Script().IsSet())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expected, ctrl.Script())
		})
	}
}

func TestArgsReplacePreviousSet(t *testing.T) {
	ctx := context.Background()
	h := host.New(host.WithOutput(&bytes.Buffer{}))
	ctrl, err := extscript.New(h, extscript.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.NoError(t, h.Register(ctrl.Command()))

	require.NoError(t, h.Exec(ctx, []string{"extscript", "-f", "perl", "-a", "perl", "-a", "./a.pl"}))
	require.NoError(t, h.Exec(ctx, []string{"extscript", "-a", "perl"}))
	assert.Equal(t, extscript.Script{File: "perl", Args: []string{"perl"}}, ctrl.Script())
}

func TestBypassWithoutScript(t *testing.T) {
	out := &bytes.Buffer{}
	h := host.New(host.WithOutput(out))
	ctrl, err := extscript.New(h, extscript.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.NoError(t, h.Register(ctrl.Command()))

	err = h.Exec(context.Background(), []string{"extscript", "-b", "help"})
	assert.ErrorIs(t, err, extscript.ErrScriptNotSet)
	assert.Equal(t, "extscript: script path is not set\n", out.String())
}
