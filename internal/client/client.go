// Package client talks to the relay over its HTTP and WebSocket contract.
// It never sends plaintext: Session encrypts before Send and decrypts what
// Chats and Subscribe return.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/pliu/etoe/internal/errs"
	"github.com/pliu/etoe/internal/keycache"
	"github.com/pliu/etoe/internal/models"
)

const DefaultTimeout = 10 * time.Second

type Options struct {
	// Timeout bounds every HTTP request. Zero means DefaultTimeout.
	Timeout    time.Duration
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	KeyCache   *keycache.Cache
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
	keys    *keycache.Cache
}

func New(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: timeout}
	}
	keys := opts.KeyCache
	if keys == nil {
		keys = keycache.New(keycache.DefaultTTL, nil)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		dialer:  dialer,
		keys:    keys,
	}
}

// Token is the bearer token from the last successful Register.
func (c *Client) Token() string { return c.token }

// SetToken reuses a token obtained earlier.
func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "client.newRequest")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "client %s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "client %s %s read body", method, path)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.FromStatus(resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// Register logs in or signs up and remembers the returned token.
func (c *Client) Register(ctx context.Context, name, password, publicKey string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"name":      name,
		"password":  password,
		"publicKey": publicKey,
	})
	if err != nil {
		return "", err
	}
	data, err := c.do(ctx, http.MethodPost, "/users", "application/json", body)
	if err != nil {
		return "", err
	}
	c.token = string(data)
	return c.token, nil
}

// Chats returns the user's chats, most recently active first.
func (c *Client) Chats(ctx context.Context) ([]models.ChatView, error) {
	data, err := c.do(ctx, http.MethodGet, "/chats", "", nil)
	if err != nil {
		return nil, err
	}
	var chats map[string]models.ChatView
	if err := json.Unmarshal(data, &chats); err != nil {
		return nil, errors.Wrap(err, "client.Chats.decode")
	}
	return models.SortChats(chats), nil
}

func (c *Client) CreateChat(ctx context.Context, partner string) (models.ChatView, error) {
	data, err := c.do(ctx, http.MethodPost, "/chats", "text/plain; charset=utf-8", []byte(partner))
	if err != nil {
		return models.ChatView{}, err
	}
	var chat models.ChatView
	if err := json.Unmarshal(data, &chat); err != nil {
		return models.ChatView{}, errors.Wrap(err, "client.CreateChat.decode")
	}
	return chat, nil
}

// Send posts already-encrypted content to a chat.
func (c *Client) Send(ctx context.Context, chatID, ciphertext string) (models.MessageView, error) {
	body, err := json.Marshal(map[string]string{"content": ciphertext})
	if err != nil {
		return models.MessageView{}, err
	}
	data, err := c.do(ctx, http.MethodPost, "/chats/"+url.PathEscape(chatID), "application/json", body)
	if err != nil {
		return models.MessageView{}, err
	}
	var msg models.MessageView
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.MessageView{}, errors.Wrap(err, "client.Send.decode")
	}
	return msg, nil
}

// PeerKey returns the chat partner's current public key, served from the
// key cache while fresh.
func (c *Client) PeerKey(ctx context.Context, chatID string) (string, error) {
	if key, ok := c.keys.Get(chatID); ok {
		return key, nil
	}
	c.keys.EvictExpired()
	data, err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID)+"/key", "", nil)
	if err != nil {
		return "", err
	}
	key := string(data)
	c.keys.Put(chatID, key)
	return key, nil
}

// Subscription is a live push connection.
type Subscription struct {
	conn   *websocket.Conn
	Events <-chan models.DecodedEvent
	// Err receives the error that ended the subscription, then closes.
	Err <-chan error
}

func (s *Subscription) Close() error {
	return s.conn.Close()
}

// Subscribe opens /ws with the token as a query parameter. Frames that do
// not decode are skipped. The subscription ends when ctx is cancelled or
// the socket fails; there is no reconnect.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "client.Subscribe.parse")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {c.token}}.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, errs.FromStatus(resp.StatusCode, err.Error())
		}
		return nil, errors.Wrap(err, "client.Subscribe.dial")
	}

	events := make(chan models.DecodedEvent, 16)
	errc := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stopped:
		}
	}()
	go func() {
		defer close(stopped)
		defer close(events)
		defer close(errc)
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				errc <- err
				return
			}
			ev, err := models.DecodeEvent(frame)
			if err != nil {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return &Subscription{conn: conn, Events: events, Err: errc}, nil
}
