package presence

import (
	"encoding/json"
	"fmt"
)

func decodeEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("decode presence event: %w", err)
	}
	if ev.Record.UserID == "" {
		return Event{}, fmt.Errorf("presence event missing user id")
	}
	switch ev.Type {
	case EventTrack, EventLeave, EventTyping:
	default:
		return Event{}, fmt.Errorf("unknown presence event type %q", ev.Type)
	}
	return ev, nil
}
