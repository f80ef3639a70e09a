package sioclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/cmdgrid/internal/command"
	"github.com/vk/cmdgrid/internal/controller"
	"github.com/vk/cmdgrid/internal/events"
	"github.com/vk/cmdgrid/internal/executor"
	"github.com/vk/cmdgrid/internal/scheduler"
	"github.com/vk/cmdgrid/internal/sioserver"
	"github.com/vk/cmdgrid/internal/testutil"
)

const graph = `
- name: a
  target_type: build
  script: ["echo a"]
- name: b
  target_type: test
  script: ["echo b"]
  dependencies: [a]
- name: flaky
  target_type: test
  script: ["exit 1"]
`

// echoExecutor prints the command name and exits with a scripted code.
type echoExecutor struct {
	mu    sync.Mutex
	codes map[string]int
}

func (e *echoExecutor) Execute(_ context.Context, rc executor.RunContext, cmd *command.Command, sink events.Sink) (events.Event, error) {
	e.mu.Lock()
	code := e.codes[cmd.Name]
	e.mu.Unlock()
	sink.Send(events.Started(cmd.Name, rc.TraceID))
	sink.Send(events.Stdout(cmd.Name, rc.TraceID, cmd.Name))
	fin := events.Finished(cmd.Name, rc.TraceID, command.CommandOutput{ExitCode: code})
	sink.Send(fin)
	return fin, nil
}

func serve(t *testing.T) (*Client, context.Context) {
	t.Helper()
	ctx, _ := testutil.Context(t)

	h := controller.Spawn(ctx, controller.Deps{
		Runner: scheduler.New(&echoExecutor{codes: map[string]int{"flaky": 1}}, nil),
		Root:   t.TempDir(),
	})
	srv := sioserver.New(ctx, h)
	mux := http.NewServeMux()
	mux.Handle("/socket.io/", srv.Handler())
	ts := httptest.NewServer(mux)

	c, err := Dial(ctx, ts.URL, Options{ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)

	t.Cleanup(func() {
		c.Close()
		srv.Close()
		ts.Close()
		h.Close()
	})
	return c, ctx
}

func TestRoundTrip(t *testing.T) {
	// --- Arrange ---
	c, ctx := serve(t)
	require.NoError(t, c.LoadGraph(ctx, graph, "yaml"))

	// --- Act ---
	stream, err := c.RunOne(ctx, "b")
	require.NoError(t, err)
	evs := testutil.DrainStream(t, stream, 10*time.Second)

	// --- Assert ---
	require.Len(t, evs, 6)
	testutil.RequireOrdered(t, testutil.Filter(evs, "a"))
	assert.Equal(t, []events.Kind{events.KindStarted, events.KindStdout, events.KindFinished}, testutil.Kinds(testutil.Filter(evs, "b")))
	assert.Equal(t, "b", testutil.Filter(evs, "b")[1].Line)
	assert.True(t, stream.Done())
}

func TestRejectedRequests(t *testing.T) {
	c, ctx := serve(t)

	_, err := c.RunOne(ctx, "b")
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Contains(t, reqErr.Msg, controller.ErrNoGraph.Error())

	err = c.LoadGraph(ctx, "- name: x\n  target_type: nope\n", "yaml")
	require.ErrorAs(t, err, &reqErr)
	assert.Contains(t, reqErr.Msg, "bad target type")

	require.NoError(t, c.LoadGraph(ctx, graph, ""))
	_, err = c.RunMany(ctx, "a", "ghost")
	require.ErrorAs(t, err, &reqErr)
	assert.Contains(t, reqErr.Msg, "ghost")
}

func TestRerunOverSocket(t *testing.T) {
	c, ctx := serve(t)
	require.NoError(t, c.LoadGraph(ctx, graph, "yaml"))

	stream, err := c.RunAll(ctx, "test")
	require.NoError(t, err)
	testutil.DrainStream(t, stream, 10*time.Second)

	stream, err = c.Rerun(ctx)
	require.NoError(t, err)
	evs := testutil.DrainStream(t, stream, 10*time.Second)

	require.NotEmpty(t, evs)
	for _, ev := range evs {
		assert.Equal(t, "flaky"+controller.RerunSuffix, ev.Command)
	}
}

func TestCallAfterClose(t *testing.T) {
	c, ctx := serve(t)
	c.Close()

	_, err := c.RunAll(ctx, "test")
	assert.ErrorIs(t, err, ErrDisconnected)
}
