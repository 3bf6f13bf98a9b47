// Package dispatcher is the single coordinating authority: it owns the
// claim/ack scheduling for urls, tunebooks and their host politeness
// policy, speaking a newline-delimited JSON protocol over TCP to the
// fetcher, parser and indexer workers.
package dispatcher

import "encoding/json"

// Action names for the newline-delimited JSON wire protocol.
const (
	ActionGetURL             = "get_url"
	ActionSubmitResult        = "submit_result"
	ActionGetFetchedURL       = "get_fetched_url"
	ActionSubmitParsedResult  = "submit_parsed_result"
	ActionGetTunebook         = "get_tunebook"
	ActionSubmitIndexedResult = "submit_indexed_result"
)

// Status strings used in response envelopes.
const (
	StatusOK      = "ok"
	StatusNoURLs  = "no_urls"
	StatusEmpty   = "empty"
	StatusError   = "error"
)

// Request is the generic envelope every worker sends; fields not relevant
// to Action are left zero.
type Request struct {
	Action      string `json:"action"`
	URLID       int64  `json:"url_id,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
	Document    string `json:"document,omitempty"` // base64
	HTTPStatus  *int   `json:"http_status,omitempty"`
	ErrorType   string `json:"error_type,omitempty"`
	HasABC      bool   `json:"has_abc,omitempty"`
	TunebookID  int64  `json:"tunebook_id,omitempty"`
	Success     *bool  `json:"success,omitempty"`
}

// FetchedURLEntry is one element of get_fetched_url's batch response.
type FetchedURLEntry struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// Response is the generic envelope the dispatcher sends back.
type Response struct {
	Status       string            `json:"status"`
	Message      string            `json:"message,omitempty"`
	URLID        int64             `json:"url_id,omitempty"`
	URL          string            `json:"url,omitempty"`
	LinkDistance int               `json:"link_distance,omitempty"`
	URLs         []FetchedURLEntry `json:"urls,omitempty"`
	TunebookID   int64             `json:"tunebook_id,omitempty"`
}

func marshal(r Response) []byte {
	b, err := json.Marshal(r)
	if err != nil {
		// Response types are all trivially marshalable; a failure here is
		// a programmer error, not a runtime condition to recover from.
		panic(err)
	}
	return append(b, '\n')
}
