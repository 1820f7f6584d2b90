package chainweb

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/chainweb-tools/cwindex/internal/model"
)

// HeaderEvent is one event decoded from the node's /header/updates stream.
// Only events of type "BlockHeader" carry a populated Header.
type HeaderEvent struct {
	Type   string
	Header *model.BlockHeader
}

type headerEventPayload struct {
	Header model.BlockHeader `json:"header"`
}

// StreamHeaderUpdates connects to the node's SSE header stream and sends
// decoded events on the returned channel until ctx is cancelled. On stream
// disconnect it reconnects with bounded exponential backoff (initial 1s,
// factor 2, cap 60s) rather than surfacing the disconnect to the caller.
func (c *Client) StreamHeaderUpdates(ctx context.Context) <-chan HeaderEvent {
	out := make(chan HeaderEvent)
	go func() {
		defer close(out)
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 1 * time.Second
		bo.Multiplier = 2
		bo.MaxInterval = 60 * time.Second
		bo.RandomizationFactor = 0
		bo.MaxElapsedTime = 0 // retry forever; only ctx cancellation stops us

		for {
			if ctx.Err() != nil {
				return
			}
			err := c.runStreamOnce(ctx, out)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				wait := bo.NextBackOff()
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return
				}
				continue
			}
			bo.Reset()
		}
	}()
	return out
}

// runStreamOnce performs one connect-and-consume pass over the SSE stream.
// It returns nil only if ctx was cancelled mid-stream; any other return is
// a disconnect that the caller retries.
func (c *Client) runStreamOnce(ctx context.Context, out chan<- HeaderEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/header/updates", nil)
	if err != nil {
		return &NetworkError{Op: "header/updates", Err: err}
	}
	req.Header.Set("accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: "header/updates", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &NetworkError{Op: "header/updates", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var eventType string
	var dataLines []string

	flush := func() error {
		if len(dataLines) == 0 {
			eventType = ""
			return nil
		}
		data := strings.Join(dataLines, "\n")
		dataLines = nil

		if eventType != "BlockHeader" {
			eventType = ""
			return nil
		}
		eventType = ""

		var payload headerEventPayload
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			// malformed single event: skip it, keep the stream alive.
			return nil
		}
		select {
		case out <- HeaderEvent{Type: "BlockHeader", Header: &payload.Header}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// comment or unrecognized field, ignore
		}
	}
	if err := scanner.Err(); err != nil {
		return &NetworkError{Op: "header/updates", Err: err}
	}
	return &NetworkError{Op: "header/updates", Err: fmt.Errorf("stream closed")}
}
