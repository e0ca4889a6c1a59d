// Package hostsession talks to the host's session server: looking up,
// forking, and creating conversation sessions, and streaming its events.
package hostsession

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sst/opencode-sdk-go"
	"github.com/sst/opencode-sdk-go/option"
	"github.com/sst/opencode-sdk-go/packages/ssestream"

	"github.com/badri/wtsession/internal/logging"
)

// Session is the subset of a host session descriptor the tools use.
type Session struct {
	ID        string `json:"id"`
	ParentID  string `json:"parentID,omitempty"`
	Directory string `json:"directory,omitempty"`
	Title     string `json:"title,omitempty"`
}

// CreateParams are the body of a session creation request.
type CreateParams struct {
	ParentID string `json:"parentID,omitempty"`
	Title    string `json:"title,omitempty"`
}

// Client is the host session API.
type Client interface {
	Get(ctx context.Context, id, directory string) (*Session, error)
	Fork(ctx context.Context, parentID, directory string) (*Session, error)
	Create(ctx context.Context, params CreateParams, directory string) (*Session, error)
}

// HTTPClient implements Client on top of the opencode SDK.
type HTTPClient struct {
	sdk *opencode.Client
}

// NewHTTPClient creates a client for the server at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		sdk: opencode.NewClient(
			option.WithBaseURL(strings.TrimRight(baseURL, "/")),
			option.WithRequestTimeout(timeout),
			option.WithMaxRetries(1),
		),
	}
}

func (c *HTTPClient) Get(ctx context.Context, id, directory string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session id is empty")
	}
	params := opencode.SessionGetParams{}
	if directory != "" {
		params.Directory = opencode.F(directory)
	}
	sess, err := c.sdk.Session.Get(ctx, id, params)
	if err != nil {
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}
	return fromSDK(sess)
}

// Fork is not exposed by the SDK's session service, so it goes through the
// client's generic POST with the same base URL, retries and timeout.
func (c *HTTPClient) Fork(ctx context.Context, parentID, directory string) (*Session, error) {
	if parentID == "" {
		return nil, fmt.Errorf("parent session id is empty")
	}
	var opts []option.RequestOption
	if directory != "" {
		opts = append(opts, option.WithQuery("directory", directory))
	}
	var sess opencode.Session
	path := "session/" + url.PathEscape(parentID) + "/fork"
	if err := c.sdk.Post(ctx, path, map[string]any{}, &sess, opts...); err != nil {
		return nil, fmt.Errorf("session fork failed: %w", err)
	}
	return fromSDK(&sess)
}

func (c *HTTPClient) Create(ctx context.Context, params CreateParams, directory string) (*Session, error) {
	body := opencode.SessionNewParams{}
	if directory != "" {
		body.Directory = opencode.F(directory)
	}
	if params.ParentID != "" {
		body.ParentID = opencode.F(params.ParentID)
	}
	if params.Title != "" {
		body.Title = opencode.F(params.Title)
	}
	sess, err := c.sdk.Session.New(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("session create failed: %w", err)
	}
	return fromSDK(sess)
}

func fromSDK(s *opencode.Session) (*Session, error) {
	if s == nil || s.ID == "" {
		return nil, fmt.Errorf("session server returned a session without an id")
	}
	return &Session{
		ID:        s.ID,
		ParentID:  s.ParentID,
		Directory: s.Directory,
		Title:     s.Title,
	}, nil
}

// Event is one message from the host event stream.
type Event struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

// SessionID extracts the session the event refers to. Status events carry
// properties.sessionID; lifecycle events carry properties.info.id.
func (e Event) SessionID() string {
	var props struct {
		SessionID string `json:"sessionID"`
		Info      struct {
			ID string `json:"id"`
		} `json:"info"`
	}
	if len(e.Properties) == 0 || json.Unmarshal(e.Properties, &props) != nil {
		return ""
	}
	if props.SessionID != "" {
		return props.SessionID
	}
	return props.Info.ID
}

// Events subscribes to the server-sent event stream. The channel closes when
// ctx is cancelled or the connection drops.
//
// The SDK's typed event union rejects event types it does not know about
// (session.busy among them), so the stream is decoded into Event instead.
func (c *HTTPClient) Events(ctx context.Context) (<-chan Event, error) {
	var raw *http.Response
	err := c.sdk.Get(ctx, "event", nil, &raw,
		option.WithHeader("Accept", "text/event-stream"),
		option.WithRequestTimeout(0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to event stream: %w", err)
	}
	dec := ssestream.NewDecoder(raw)
	if dec == nil {
		return nil, fmt.Errorf("event stream returned no body")
	}

	ch := make(chan Event, 16)
	go func() {
		defer dec.Close()
		defer close(ch)
		readEvents(ctx, dec, ch)
	}()
	return ch, nil
}

func readEvents(ctx context.Context, dec ssestream.Decoder, ch chan<- Event) {
	log := logging.NewLogger("hostsession")
	for dec.Next() {
		data := bytes.TrimSpace(dec.Event().Data)
		if len(data) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.WithError(err).Debug("skipping malformed event")
			continue
		}
		select {
		case ch <- ev:
		case <-ctx.Done():
			return
		}
	}
	if err := dec.Err(); err != nil && ctx.Err() == nil {
		log.WithError(err).Warn("event stream ended")
	}
}

// Exists reports whether id resolves to a live session in directory. Any
// failure, including an empty id, counts as "does not exist".
func Exists(ctx context.Context, c Client, id, directory string) bool {
	if id == "" {
		return false
	}
	sess, err := c.Get(ctx, id, directory)
	if err != nil {
		logging.NewLogger("hostsession").WithField("session", id).WithError(err).Debug("session lookup failed")
		return false
	}
	return sess != nil && sess.ID != ""
}

var _ Client = (*HTTPClient)(nil)
