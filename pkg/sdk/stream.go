package lorekeep

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxEventSize bounds a single SSE line. Chunk deltas are small; sources
// events carry at most the per-query source list.
const maxEventSize = 1 << 20

// QueryStream asks a question and delivers the answer incrementally. onEvent
// is called once per event in arrival order: zero or more chunk events, one
// sources event, one done event. Returning an error from onEvent aborts the
// stream.
//
// If the stream is cut short by a server-side failure the error carries the
// service's reason code.
func (c *Client) QueryStream(ctx context.Context, userID, campaignID string, req QueryRequest, onEvent func(StreamEvent) error) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("query_stream", start, err) }()

	path := fmt.Sprintf("/v1/campaigns/%s/query/stream", campaignID)
	httpReq, err := c.newRequest(ctx, http.MethodPost, path, userID, req)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("lorekeep: request %s: %w", path, err)
	}
	defer func() { _ = res.Body.Close() }()

	// Pre-stream failures arrive as a regular JSON error response.
	if res.StatusCode >= 400 {
		return decodeError(res)
	}

	return readEvents(res.Body, onEvent)
}

// readEvents parses the SSE stream and dispatches events until EOF.
func readEvents(body io.Reader, onEvent func(StreamEvent) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), maxEventSize)

	var eventName string
	var data string

	dispatch := func() error {
		if data == "" {
			return nil
		}
		defer func() { eventName, data = "", "" }()

		// A terminal error event replaces the done event.
		if eventName == "error" {
			apiErr := &APIError{StatusCode: http.StatusBadGateway}
			var envelope struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			if json.Unmarshal([]byte(data), &envelope) == nil && envelope.Code != "" {
				apiErr.Code = envelope.Code
				apiErr.Message = envelope.Message
			} else {
				apiErr.Code = "unknown"
				apiErr.Message = "stream aborted"
			}
			return apiErr
		}

		var ev StreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("lorekeep: decode stream event: %w", err)
		}
		return onEvent(ev)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := dispatch(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("lorekeep: read stream: %w", err)
	}
	// Trailing event without a final blank line.
	return dispatch()
}
