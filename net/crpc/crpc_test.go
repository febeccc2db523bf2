package crpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type EchoArgs struct {
	Text string `cbor:"1,keyasint,omitempty"`
}

type EchoReply struct {
	Text  string `cbor:"1,keyasint,omitempty"`
	Calls int    `cbor:"2,keyasint,omitempty"`
}

type Echo struct {
	calls int
}

func (e *Echo) Say(args *EchoArgs, reply *EchoReply) error {
	e.calls++
	reply.Text = args.Text
	reply.Calls = e.calls
	return nil
}

func (e *Echo) Fail(args *EchoArgs, reply *EchoReply) error {
	return errors.New("no " + args.Text)
}

func (e *Echo) Panic(args *EchoArgs, reply *EchoReply) error {
	panic("boom")
}

// helper has the wrong shape and must not be registered
func (e *Echo) Helper() {}

func startServer(t *testing.T, ctx context.Context) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(l)
	require.NoError(t, srv.Register(&Echo{}))
	require.NoError(t, srv.RegisterName("Link", &Echo{}))
	go srv.Serve(ctx)
	return srv.Addr().String()
}

func TestCallRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr := startServer(t, ctx)

	cli, err := Dial(ctx, "tcp", addr)
	require.NoError(t, err)
	defer cli.Close()

	var reply EchoReply
	require.NoError(t, cli.Call(ctx, "Echo.Say", &EchoArgs{Text: "hello"}, &reply))
	assert.Equal(t, EchoReply{Text: "hello", Calls: 1}, reply)

	require.NoError(t, cli.Call(ctx, "Link.Say", &EchoArgs{Text: "named"}, &reply))
	assert.Equal(t, "named", reply.Text)

	err = cli.Call(ctx, "Echo.Fail", &EchoArgs{Text: "way"}, &reply)
	assert.Equal(t, ServerError("no way"), err)

	err = cli.Call(ctx, "Echo.Panic", &EchoArgs{}, &reply)
	var serr ServerError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, string(serr), "internal server error")

	// connection is still usable
	require.NoError(t, cli.Call(ctx, "Echo.Say", &EchoArgs{Text: "again"}, &reply))
	assert.Equal(t, 2, reply.Calls)
}

func TestConcurrentCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr := startServer(t, ctx)

	cli, err := Dial(ctx, "tcp", addr)
	require.NoError(t, err)
	defer cli.Close()

	calls := make([]*Call, 20)
	for i := range calls {
		calls[i] = cli.Go("Link.Say", &EchoArgs{Text: "x"}, &EchoReply{}, nil)
	}
	for _, c := range calls {
		select {
		case done := <-c.Done:
			assert.NoError(t, done.Error)
		case <-time.After(2 * time.Second):
			t.Fatal("call did not complete")
		}
	}
}

func TestUnknownMethodDropsConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr := startServer(t, ctx)

	cli, err := Dial(ctx, "tcp", addr)
	require.NoError(t, err)
	defer cli.Close()

	err = cli.Call(ctx, "Nope.Missing", &EchoArgs{}, &EchoReply{})
	assert.Error(t, err)

	err = cli.Call(ctx, "Echo.Say", &EchoArgs{}, &EchoReply{})
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestRegisterRejectsUnsuitable(t *testing.T) {
	srv := NewServer(nil)
	assert.Error(t, srv.Register(struct{}{}))
	require.NoError(t, srv.Register(&Echo{}))
	assert.Error(t, srv.Register(&Echo{}), "duplicate service")
}

func TestCloseTwice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr := startServer(t, ctx)

	cli, err := Dial(ctx, "tcp", addr)
	require.NoError(t, err)
	require.NoError(t, cli.Close())
	assert.ErrorIs(t, cli.Close(), ErrShutdown)
}
