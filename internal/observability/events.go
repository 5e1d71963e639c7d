package observability

import "time"

// WSKind labels websocket metrics and lifecycle events.
const WSKind = "chat"

// WSRoutingKey is the broker routing key of websocket lifecycle events.
const WSRoutingKey = "ws_events.chats"

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// WSLifecycle describes a websocket connect, disconnect or error.
type WSLifecycle struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	ConnectedAt time.Time
}

// WSEvent builds the lifecycle envelope published to WSRoutingKey.
func WSEvent(event string, info WSLifecycle, reason string) EventEnvelope {
	var duration int64
	if event != "ws_connect" {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	return EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        WSKind,
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": duration,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
