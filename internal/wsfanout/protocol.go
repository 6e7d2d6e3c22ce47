// Package wsfanout is the authenticated subscription router described in
// spec.md §4.5: it accepts WebSocket clients, lets them subscribe to topics
// that map 1:1 to ingester names, and mirrors registry pub/sub deltas into
// the sockets of every subscriber, with per-tenant field filtering.
package wsfanout

import "time"

// inbound is the JSON shape of a client→server frame.
type inbound struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// outbound is the JSON shape of every server→client frame. Fields are
// omitted per message type via omitempty.
type outbound struct {
	Type      string         `json:"type"`
	Topics    []string       `json:"topics,omitempty"`
	Topic     string         `json:"topic,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Message   string         `json:"message,omitempty"`
	Code      int            `json:"code,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

func subscribedMsg(topics []string) outbound {
	return outbound{Type: "subscribed", Topics: topics}
}

func unsubscribedMsg(topics []string) outbound {
	return outbound{Type: "unsubscribed", Topics: topics}
}

func dataMsg(topic string, data map[string]any, at time.Time) outbound {
	return outbound{Type: "data", Topic: topic, Data: data, Timestamp: at.UTC().Format(time.RFC3339Nano)}
}

func pongMsg(at time.Time) outbound {
	return outbound{Type: "pong", Timestamp: at.UTC().Format(time.RFC3339Nano)}
}

func errorMsg(message string) outbound {
	return outbound{Type: "error", Message: message}
}

func disconnectMsg(code int, reason string) outbound {
	return outbound{Type: "disconnect", Code: code, Reason: reason}
}
