// Package events connects database change notifications to in-process
// consumers: the consolidator trigger path and the SSE fan-out.
package events

import (
	"encoding/json"
	"fmt"
)

// Payload is the JSON body carried on every change channel.
type Payload struct {
	SnapshotID string `json:"snapshot_id"`
	RankingID  string `json:"ranking_id,omitempty"`
}

// ParsePayload decodes a channel message body.
func ParsePayload(raw string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Payload{}, fmt.Errorf("parse notification payload: %w", err)
	}
	if p.SnapshotID == "" {
		return Payload{}, fmt.Errorf("notification payload missing snapshot_id")
	}
	return p, nil
}
