// Package dispatcherclient implements the worker side of the dispatcher's
// newline-delimited JSON protocol (internal/dispatcher), shared by the
// fetcher, parser and indexer daemons. Every Client call dials its own
// short-lived TCP connection: dial, send one request, read one response,
// close (GetFetchedBatch keeps its connection open for the ack sequence).
package dispatcherclient

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/mark-vandenbroeck/abc-pipeline/internal/dispatcher"
)

// Client dials the dispatcher for each call. The dispatcher protocol is
// request/response per connection (except the batch/ack sequence below),
// so there is no benefit to keeping a connection pool open across calls.
type Client struct {
	Addr    string
	Timeout time.Duration
}

// New constructs a Client.
func New(addr string, timeout time.Duration) *Client {
	return &Client{Addr: addr, Timeout: timeout}
}

func (c *Client) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", c.Addr, c.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to dial dispatcher at %s: %w", c.Addr, err)
	}
	conn.SetDeadline(time.Now().Add(c.Timeout))
	return conn, nil
}

func roundTrip(conn net.Conn, req dispatcher.Request) (dispatcher.Response, *bufio.Reader, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return dispatcher.Response{}, nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	b = append(b, '\n')
	if _, err := conn.Write(b); err != nil {
		return dispatcher.Response{}, nil, fmt.Errorf("failed to write request: %w", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return dispatcher.Response{}, nil, fmt.Errorf("failed to read response: %w", err)
	}
	var resp dispatcher.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return dispatcher.Response{}, nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp, reader, nil
}

// FetchURLRequest returned by GetURL.
type FetchURLRequest struct {
	ID           int64
	URL          string
	LinkDistance int
}

// GetURL claims the next eligible URL for fetching, or (nil, nil) if the
// queue is empty.
func (c *Client) GetURL() (*FetchURLRequest, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	resp, _, err := roundTrip(conn, dispatcher.Request{Action: dispatcher.ActionGetURL})
	if err != nil {
		return nil, err
	}
	if resp.Status == dispatcher.StatusNoURLs {
		return nil, nil
	}
	if resp.Status != dispatcher.StatusOK {
		return nil, fmt.Errorf("get_url failed: %s", resp.Message)
	}
	return &FetchURLRequest{ID: resp.URLID, URL: resp.URL, LinkDistance: resp.LinkDistance}, nil
}

// FetchOutcome is what the fetcher reports back via SubmitResult.
type FetchOutcome struct {
	URLID      int64
	SizeBytes  int64
	MimeType   string
	Document   []byte
	HTTPStatus *int
	ErrorType  string
}

// SubmitResult reports a fetch outcome (success or failure).
func (c *Client) SubmitResult(o FetchOutcome) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	req := dispatcher.Request{
		Action:     dispatcher.ActionSubmitResult,
		URLID:      o.URLID,
		SizeBytes:  o.SizeBytes,
		MimeType:   o.MimeType,
		HTTPStatus: o.HTTPStatus,
		ErrorType:  o.ErrorType,
	}
	if len(o.Document) > 0 {
		req.Document = base64.StdEncoding.EncodeToString(o.Document)
	}

	resp, _, err := roundTrip(conn, req)
	if err != nil {
		return err
	}
	if resp.Status != dispatcher.StatusOK {
		return fmt.Errorf("submit_result failed: %s", resp.Message)
	}
	return nil
}

// FetchedURL is one entry of a GetFetchedBatch response.
type FetchedURL struct {
	ID  int64
	URL string
}

// ParsedResult is what the parser reports back per url, within the same
// connection that served GetFetchedBatch.
type ParsedResult struct {
	URLID  int64
	HasABC bool
}

// GetFetchedBatch claims a batch of fetched-but-unparsed URLs and returns
// a reporter function the caller must invoke exactly once per returned
// URL, in the order most convenient to the parser, before the connection
// is closed. The dispatcher waits on this connection for one
// submit_parsed_result per URL and acks each one.
func (c *Client) GetFetchedBatch() ([]FetchedURL, func(ParsedResult) error, func(), error) {
	conn, err := c.dial()
	if err != nil {
		return nil, nil, nil, err
	}
	conn.SetDeadline(time.Time{}) // the ack loop can take longer than a single dial timeout

	resp, reader, err := roundTrip(conn, dispatcher.Request{Action: dispatcher.ActionGetFetchedURL})
	if err != nil {
		conn.Close()
		return nil, nil, nil, err
	}
	if resp.Status == dispatcher.StatusNoURLs || len(resp.URLs) == 0 {
		conn.Close()
		return nil, nil, nil, nil
	}

	out := make([]FetchedURL, len(resp.URLs))
	for i, u := range resp.URLs {
		out[i] = FetchedURL{ID: u.ID, URL: u.URL}
	}

	report := func(r ParsedResult) error {
		conn.SetDeadline(time.Now().Add(60 * time.Second))
		req := dispatcher.Request{Action: dispatcher.ActionSubmitParsedResult, URLID: r.URLID, HasABC: r.HasABC}
		b, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to marshal parsed result: %w", err)
		}
		b = append(b, '\n')
		if _, err := conn.Write(b); err != nil {
			return fmt.Errorf("failed to write parsed result: %w", err)
		}
		if _, err := reader.ReadBytes('\n'); err != nil {
			return fmt.Errorf("failed to read ack: %w", err)
		}
		return nil
	}

	return out, report, func() { conn.Close() }, nil
}

// SubmitParsedResult reports a single parse outcome on its own
// connection, outside of a batch.
func (c *Client) SubmitParsedResult(r ParsedResult) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	req := dispatcher.Request{Action: dispatcher.ActionSubmitParsedResult, URLID: r.URLID, HasABC: r.HasABC}
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal parsed result: %w", err)
	}
	b = append(b, '\n')
	if _, err := conn.Write(b); err != nil {
		return fmt.Errorf("failed to write parsed result: %w", err)
	}
	reader := bufio.NewReader(conn)
	if _, err := reader.ReadBytes('\n'); err != nil {
		return fmt.Errorf("failed to read ack: %w", err)
	}
	return nil
}

// GetTunebook claims the next tunebook ready for indexing, or (0, false)
// if the queue is empty.
func (c *Client) GetTunebook() (int64, bool, error) {
	conn, err := c.dial()
	if err != nil {
		return 0, false, err
	}
	defer conn.Close()

	resp, _, err := roundTrip(conn, dispatcher.Request{Action: dispatcher.ActionGetTunebook})
	if err != nil {
		return 0, false, err
	}
	if resp.Status == dispatcher.StatusEmpty {
		return 0, false, nil
	}
	if resp.Status != dispatcher.StatusOK {
		return 0, false, fmt.Errorf("get_tunebook failed: %s", resp.Message)
	}
	return resp.TunebookID, true, nil
}

// SubmitIndexedResult reports whether a tunebook finished indexing
// successfully.
func (c *Client) SubmitIndexedResult(tunebookID int64, success bool) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, _, err := roundTrip(conn, dispatcher.Request{
		Action:     dispatcher.ActionSubmitIndexedResult,
		TunebookID: tunebookID,
		Success:    &success,
	})
	if err != nil {
		return err
	}
	if resp.Status != dispatcher.StatusOK {
		return fmt.Errorf("submit_indexed_result failed: %s", resp.Message)
	}
	return nil
}
