package dispatcherclient

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mark-vandenbroeck/abc-pipeline/internal/dispatcher"
)

// fakeServer accepts one connection, hands the raw request line to handle,
// and closes after handle writes its response(s).
func fakeServer(t *testing.T, handle func(conn net.Conn, req dispatcher.Request, reader *bufio.Reader)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		var req dispatcher.Request
		if err := json.Unmarshal(line, &req); err != nil {
			return
		}
		handle(conn, req, reader)
	}()

	return ln.Addr().String()
}

func writeResponse(t *testing.T, conn net.Conn, resp dispatcher.Response) {
	t.Helper()
	b, err := json.Marshal(resp)
	require.NoError(t, err)
	_, err = conn.Write(append(b, '\n'))
	require.NoError(t, err)
}

func TestGetURL_ReturnsNilWhenNoURLs(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn, req dispatcher.Request, reader *bufio.Reader) {
		writeResponse(t, conn, dispatcher.Response{Status: dispatcher.StatusNoURLs})
	})

	c := New(addr, time.Second)
	req, err := c.GetURL()
	require.NoError(t, err)
	require.Nil(t, req)
}

func TestGetURL_ReturnsClaimedURL(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn, req dispatcher.Request, reader *bufio.Reader) {
		writeResponse(t, conn, dispatcher.Response{
			Status: dispatcher.StatusOK, URLID: 7, URL: "https://example.com/a", LinkDistance: 2,
		})
	})

	c := New(addr, time.Second)
	req, err := c.GetURL()
	require.NoError(t, err)
	require.NotNil(t, req)
	require.Equal(t, int64(7), req.ID)
	require.Equal(t, "https://example.com/a", req.URL)
	require.Equal(t, 2, req.LinkDistance)
}

func TestGetURL_ErrorStatusReturnsError(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn, req dispatcher.Request, reader *bufio.Reader) {
		writeResponse(t, conn, dispatcher.Response{Status: dispatcher.StatusError, Message: "boom"})
	})

	c := New(addr, time.Second)
	_, err := c.GetURL()
	require.ErrorContains(t, err, "boom")
}

func TestSubmitResult_EncodesDocumentAsBase64(t *testing.T) {
	var gotDoc string
	addr := fakeServer(t, func(conn net.Conn, req dispatcher.Request, reader *bufio.Reader) {
		gotDoc = req.Document
		writeResponse(t, conn, dispatcher.Response{Status: dispatcher.StatusOK})
	})

	c := New(addr, time.Second)
	status := 200
	err := c.SubmitResult(FetchOutcome{URLID: 1, Document: []byte("X:1\nT:Tune\n"), HTTPStatus: &status})
	require.NoError(t, err)
	require.NotEmpty(t, gotDoc)
}

func TestSubmitResult_FailureStatusReturnsError(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn, req dispatcher.Request, reader *bufio.Reader) {
		writeResponse(t, conn, dispatcher.Response{Status: dispatcher.StatusError, Message: "not found"})
	})

	c := New(addr, time.Second)
	err := c.SubmitResult(FetchOutcome{URLID: 1})
	require.ErrorContains(t, err, "not found")
}

func TestGetTunebook_EmptyQueueReturnsFalse(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn, req dispatcher.Request, reader *bufio.Reader) {
		writeResponse(t, conn, dispatcher.Response{Status: dispatcher.StatusEmpty})
	})

	c := New(addr, time.Second)
	id, ok, err := c.GetTunebook()
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, int64(0), id)
}

func TestGetTunebook_ReturnsClaimedID(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn, req dispatcher.Request, reader *bufio.Reader) {
		writeResponse(t, conn, dispatcher.Response{Status: dispatcher.StatusOK, TunebookID: 9})
	})

	c := New(addr, time.Second)
	id, ok, err := c.GetTunebook()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(9), id)
}

func TestSubmitIndexedResult_SendsSuccessFlag(t *testing.T) {
	var got dispatcher.Request
	addr := fakeServer(t, func(conn net.Conn, req dispatcher.Request, reader *bufio.Reader) {
		got = req
		writeResponse(t, conn, dispatcher.Response{Status: dispatcher.StatusOK})
	})

	c := New(addr, time.Second)
	require.NoError(t, c.SubmitIndexedResult(5, true))
	require.Equal(t, int64(5), got.TunebookID)
	require.NotNil(t, got.Success)
	require.True(t, *got.Success)
}

func TestGetFetchedBatch_EmptyQueueReturnsNil(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn, req dispatcher.Request, reader *bufio.Reader) {
		writeResponse(t, conn, dispatcher.Response{Status: dispatcher.StatusNoURLs})
	})

	c := New(addr, time.Second)
	urls, report, closeFn, err := c.GetFetchedBatch()
	require.NoError(t, err)
	require.Nil(t, urls)
	require.Nil(t, report)
	require.Nil(t, closeFn)
}

func TestGetFetchedBatch_ReportsAckPerURL(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn, req dispatcher.Request, reader *bufio.Reader) {
		writeResponse(t, conn, dispatcher.Response{
			Status: dispatcher.StatusOK,
			URLs: []dispatcher.FetchedURLEntry{
				{ID: 1, URL: "https://example.com/1"},
				{ID: 2, URL: "https://example.com/2"},
			},
		})

		for i := 0; i < 2; i++ {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				return
			}
			var ackReq dispatcher.Request
			if err := json.Unmarshal(line, &ackReq); err != nil {
				return
			}
			writeResponse(t, conn, dispatcher.Response{Status: dispatcher.StatusOK})
		}
	})

	c := New(addr, time.Second)
	urls, report, closeFn, err := c.GetFetchedBatch()
	require.NoError(t, err)
	defer closeFn()
	require.Len(t, urls, 2)

	for _, u := range urls {
		require.NoError(t, report(ParsedResult{URLID: u.ID, HasABC: true}))
	}
}
