package tui

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"pkt.systems/signally/schema"
)

// Frame is one message read from the surface socket. Exactly one of Event
// and Reply is set.
type Frame struct {
	Event *schema.Event
	Reply *Reply
}

// Reply is a command reply with its payload left undecoded.
type Reply struct {
	ID      string                    `json:"id,omitempty"`
	Command schema.SurfaceCommandName `json:"command"`
	Success bool                      `json:"success"`
	Error   string                    `json:"error,omitempty"`
	Data    json.RawMessage           `json:"data,omitempty"`
}

// Decode unmarshals the reply payload into target.
func (r Reply) Decode(target any) error {
	if len(r.Data) == 0 {
		return errors.New("reply has no data")
	}
	return json.Unmarshal(r.Data, target)
}

// Client is a terminal surface attached over the coordinator websocket.
type Client struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// SurfaceURL builds the websocket URL for a surface from the API base URL.
func SurfaceURL(baseURL string, surface schema.Surface) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", errors.New("api url must use http or https")
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/api/ws"
	query := url.Values{}
	query.Set("surface", string(surface.Kind))
	if surface.ID != "" {
		query.Set("id", string(surface.ID))
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// Dial attaches a surface to the coordinator at baseURL.
func Dial(ctx context.Context, baseURL string, surface schema.Surface) (*Client, error) {
	target, err := SurfaceURL(baseURL, surface)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Next blocks until the next frame arrives.
func (c *Client) Next() (Frame, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	return decodeFrame(data)
}

func decodeFrame(data []byte) (Frame, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Frame{}, err
	}
	if probe.Type == schema.SurfaceReplyType {
		var reply Reply
		if err := json.Unmarshal(data, &reply); err != nil {
			return Frame{}, err
		}
		return Frame{Reply: &reply}, nil
	}
	var event schema.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Frame{}, err
	}
	return Frame{Event: &event}, nil
}

// Send writes a command. Replies arrive through Next.
func (c *Client) Send(cmd schema.SurfaceCommand) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteJSON(cmd)
}

// Close detaches the surface.
func (c *Client) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()
	return c.conn.Close()
}
