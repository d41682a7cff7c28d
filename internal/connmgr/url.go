package connmgr

import (
	"fmt"
	"net/url"
	"strings"
)

// ControlURL builds the control WebSocket URL from the configured
// endpoint, converting an http(s) scheme to ws(s) and appending the
// protocol version, namespace, and runner key.
func ControlURL(endpoint, namespace, runnerKey string) (string, error) {
	u, err := toWebsocketURL(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("protocol_version", "1")
	q.Set("namespace", namespace)
	q.Set("runner_key", runnerKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// TunnelURL builds the tunnel WebSocket URL from the configured relay
// endpoint.
func TunnelURL(endpoint, namespace, runnerName, runnerKey string) (string, error) {
	u, err := toWebsocketURL(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("protocol_version", "1")
	q.Set("namespace", namespace)
	q.Set("runner_name", runnerName)
	q.Set("runner_key", runnerKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func toWebsocketURL(endpoint string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("connmgr: invalid endpoint %q: %w", endpoint, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a websocket scheme
	default:
		return nil, fmt.Errorf("connmgr: unsupported endpoint scheme %q", u.Scheme)
	}
	return u, nil
}
