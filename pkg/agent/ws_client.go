package agent

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// WSClient keeps one websocket to the controller and signals the notify
// channel when a config_changed message arrives. Polling stays the
// authority; the socket only shortens the latency.
type WSClient struct {
	Controller string
	Token      string
	Notify     chan<- struct{}
}

func (c *WSClient) endpoint() (string, error) {
	u, err := url.Parse(c.Controller)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/v1/ws/agent"
	return u.String(), nil
}

// Run dials and re-dials until the context is cancelled.
func (c *WSClient) Run(ctx context.Context) {
	endpoint, err := c.endpoint()
	if err != nil {
		log.Printf("ws disabled, bad controller url: %v", err)
		return
	}
	for {
		if ctx.Err() != nil {
			return
		}
		header := http.Header{}
		header.Set("Authorization", "Bearer "+c.Token)
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			log.Printf("ws dial failed: %v (status=%d)", err, status)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		log.Printf("ws connected to controller")
		c.readLoop(ctx, conn)
		log.Printf("ws disconnected, retrying in 5s")
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (c *WSClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != "config_changed" {
			continue
		}
		select {
		case c.Notify <- struct{}{}:
		default:
		}
	}
}
