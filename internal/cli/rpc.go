package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/smsforms/internal/config"
	"github.com/soyeahso/smsforms/internal/gateway"
	"github.com/soyeahso/smsforms/internal/version"
)

// rpcClient is an operator connection to a running gateway.
type rpcClient struct {
	conn *websocket.Conn
}

// gatewayURL is the WebSocket address of the gateway described by cfg.
func gatewayURL(cfg config.GatewayConfig) string {
	host := "127.0.0.1"
	if cfg.Bind == "custom" && cfg.CustomBindHost != "" {
		host = cfg.CustomBindHost
	}
	scheme := "ws"
	if cfg.TLS.Enabled {
		scheme = "wss"
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(cfg.Port)) + "/ws"
}

// dialGateway connects and authenticates with the configured credentials.
func dialGateway(ctx context.Context, cfg config.GatewayConfig) (*rpcClient, error) {
	url := gatewayURL(cfg)
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to gateway at %s: %w", url, err)
	}
	c := &rpcClient{conn: conn}

	var challenge gateway.Frame
	if err := conn.ReadJSON(&challenge); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading challenge: %w", err)
	}

	auth := gateway.ResolveAuth(cfg.Auth)
	var hello gateway.HelloOK
	err = c.call(ctx, "connect", gateway.ConnectParams{
		Protocol: gateway.ProtocolVersion,
		Client:   gateway.ClientInfo{ID: "smsforms-cli", Version: version.Version},
		Auth:     &gateway.ConnectAuth{Token: auth.Token, Password: auth.Password},
	}, &hello)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// call sends one request and decodes the matching response into out.
// Events received meanwhile are skipped.
func (c *rpcClient) call(ctx context.Context, method string, params, out any) error {
	id := uuid.New().String()
	req, err := gateway.NewRequest(id, method, params)
	if err != nil {
		return err
	}
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("sending %s: %w", method, err)
	}

	deadline := time.Now().Add(30 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)

	for {
		var f gateway.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return fmt.Errorf("reading %s response: %w", method, err)
		}
		if f.Type != gateway.FrameTypeResponse || f.ID != id {
			continue
		}
		if f.OK == nil || !*f.OK {
			if f.Error != nil {
				return fmt.Errorf("%s: %s (%s)", method, f.Error.Message, f.Error.Code)
			}
			return errors.New(method + ": request failed")
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(f.Payload, out)
	}
}

func (c *rpcClient) Close() error {
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
