package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nais/deploywatch/pkg/buildevents"
)

type wireEvent struct {
	Serial  int64               `json:"serial"`
	Type    string              `json:"type"`
	Created int64               `json:"created"`
	Payload buildevents.Payload `json:"payload"`
}

func (w *wireEvent) event() *buildevents.Event {
	return &buildevents.Event{
		Position:  w.Serial,
		Kind:      buildevents.Kind(w.Type),
		Payload:   w.Payload,
		Timestamp: time.UnixMilli(w.Created),
	}
}

// eventStream decodes newline delimited JSON events from a response body.
type eventStream struct {
	body    io.ReadCloser
	decoder *json.Decoder
}

func (s *eventStream) Recv() (*buildevents.Event, error) {
	var w wireEvent
	if err := s.decoder.Decode(&w); err != nil {
		return nil, err
	}
	return w.event(), nil
}

func (s *eventStream) Close() error {
	return s.body.Close()
}

// Events opens the ordered build event sequence of a deployment.
// With Follow set, the stream stays open and blocks until new events arrive.
// The stream is torn down when ctx is cancelled.
func (c *Client) Events(ctx context.Context, deploymentID string, opts buildevents.Options) (buildevents.Stream, error) {
	path := fmt.Sprintf("/v2/deployments/%s/events", url.PathEscape(deploymentID))

	query := url.Values{}
	query.Set("direction", "forward")
	if opts.Follow {
		query.Set("follow", "1")
	}
	if opts.Since > 0 {
		query.Set("since", strconv.FormatInt(opts.Since, 10))
	}

	resp, err := c.request(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}

	return &eventStream{
		body:    resp.Body,
		decoder: json.NewDecoder(resp.Body),
	}, nil
}
