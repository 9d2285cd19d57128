package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"backjob/internal/jobs"
)

// acceptOne reads a single request from ln and hands it back.
func acceptOne(t *testing.T, ln net.Listener) <-chan *fasthttp.Request {
	t.Helper()
	out := make(chan *fasthttp.Request, 1)
	go func() {
		defer close(out)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		req := &fasthttp.Request{}
		if err := req.Read(bufio.NewReader(conn)); err != nil {
			return
		}
		out <- req
	}()
	return out
}

func TestTrigger_WritesRequest(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	got := acceptOne(t, ln)

	tr, err := NewHTTP(Options{
		BaseURL:   "http://" + ln.Addr().String() + "/app/",
		UserAgent: "backjob-test",
	})
	require.NoError(t, err)

	params := url.Values{"steps": {"3"}, jobs.JobIDParam: {"42"}}
	caller := &jobs.Caller{Cookies: map[string]string{"session": "abc123"}}
	err = tr.Trigger(context.Background(), "demo/countdown", params, caller)
	require.NoError(t, err)

	var req *fasthttp.Request
	select {
	case req = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for triggered request")
	}
	require.NotNil(t, req)

	assert.Equal(t, "GET", string(req.Header.Method()))
	assert.Equal(t, "/app/demo/countdown", string(req.URI().Path()))
	assert.Equal(t, "42", string(req.URI().QueryArgs().Peek(jobs.JobIDParam)))
	assert.Equal(t, "3", string(req.URI().QueryArgs().Peek("steps")))
	assert.Equal(t, ln.Addr().String(), string(req.Header.Host()))
	assert.Equal(t, "backjob-test", string(req.Header.UserAgent()))
	assert.Equal(t, "no-cache", string(req.Header.Peek("Pragma")))
	assert.Contains(t, string(req.Header.Peek("Cache-Control")), "no-store")
	assert.True(t, req.Header.ConnectionClose())
	assert.Equal(t, "abc123", string(req.Header.Cookie("session")))
}

func TestTrigger_NoCallerSendsNoCookies(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	got := acceptOne(t, ln)

	tr, err := NewHTTP(Options{BaseURL: "http://" + ln.Addr().String()})
	require.NoError(t, err)

	require.NoError(t, tr.Trigger(context.Background(), "/report", nil, nil))

	req := <-got
	require.NotNil(t, req)
	assert.Equal(t, "/report", string(req.URI().Path()))
	assert.Empty(t, req.Header.Peek("Cookie"))
	assert.Empty(t, req.URI().QueryString())
}

func TestTrigger_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	tr, err := NewHTTP(Options{BaseURL: "http://" + addr, ConnectTimeout: 200 * time.Millisecond})
	require.NoError(t, err)

	err = tr.Trigger(context.Background(), "demo/countdown", url.Values{}, nil)
	require.Error(t, err)

	var te *jobs.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "demo/countdown", te.Route)
}

func TestTrigger_CancelledContext(t *testing.T) {
	tr, err := NewHTTP(Options{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	tr.dial = func(string, time.Duration) (net.Conn, error) {
		t.Fatal("dial must not be attempted for a cancelled context")
		return nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = tr.Trigger(ctx, "x", nil, nil)
	var te *jobs.TransportError
	require.True(t, errors.As(err, &te))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewHTTP_RejectsRelativeURL(t *testing.T) {
	for _, raw := range []string{"", "/jobs", "ftp://host/x", "localhost:8080"} {
		_, err := NewHTTP(Options{BaseURL: raw})
		assert.Error(t, err, raw)
	}
}

func TestHostPort_DefaultPorts(t *testing.T) {
	tr, err := NewHTTP(Options{BaseURL: "https://jobs.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "jobs.example.com:443", tr.hostPort())

	tr, err = NewHTTP(Options{BaseURL: "http://jobs.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "jobs.example.com:80", tr.hostPort())
}
