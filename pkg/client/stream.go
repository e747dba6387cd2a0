package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// Frame is one server message on the pipeline stream.
type Frame struct {
	Type   string    `json:"type"`
	ID     string    `json:"id,omitempty"`
	Event  *Event    `json:"event,omitempty"`
	Status *Status   `json:"status,omitempty"`
	Error  *APIError `json:"error,omitempty"`
}

// ErrStreamClosed is returned when the server closes the stream before the
// done frame.
var ErrStreamClosed = errors.New("pipeline stream closed before completion")

// StreamPipeline runs the pipeline over a websocket and calls onFrame for
// every event and status frame as it arrives. It returns the run ID and the
// final status. Cancelling ctx closes the connection but does not stop the
// run on the server.
func (c *Client) StreamPipeline(ctx context.Context, req PipelineRequest, onFrame func(Frame)) (string, *Status, error) {
	wsURL, err := websocketURL(c.baseURL + "/api/v1/pipeline/stream")
	if err != nil {
		return "", nil, err
	}

	header := http.Header{}
	c.setHeaders(header)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			defer resp.Body.Close()
			return "", nil, parseError(resp)
		}
		return "", nil, fmt.Errorf("connecting to pipeline stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteJSON(req); err != nil {
		return "", nil, fmt.Errorf("sending pipeline request: %w", err)
	}

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return "", nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return "", nil, ErrStreamClosed
			}
			return "", nil, fmt.Errorf("%w: %v", ErrStreamClosed, err)
		}

		switch f.Type {
		case "done":
			if f.Status == nil {
				return f.ID, nil, fmt.Errorf("%w: done frame without status", ErrStreamClosed)
			}
			return f.ID, f.Status, nil
		case "error":
			if f.Error != nil {
				return "", nil, f.Error
			}
			return "", nil, ErrStreamClosed
		default:
			if onFrame != nil {
				onFrame(f)
			}
		}
	}
}

func websocketURL(httpURL string) (string, error) {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://"), nil
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://"), nil
	default:
		return "", fmt.Errorf("unsupported server URL scheme: %s", httpURL)
	}
}
