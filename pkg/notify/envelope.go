// Package notify implements the state-change notification bus (spec
// section 4.5, C5): per-request and per-batch envelopes published to
// topic addresses over a websocket transport, with multi-URL failover and
// strictly best-effort delivery.
package notify

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"
)

// Message is the wire body of a single notification, matching the
// envelope's message shape from spec section 4.5.
type Message struct {
	ID              string            `json:"id"`
	Properties      map[string]string `json:"properties,omitempty"`
	Body            json.RawMessage   `json:"body"`
	ContentType     string            `json:"content_type"`
	ContentEncoding string            `json:"content_encoding"`
	Durable         bool              `json:"durable"`
}

// Envelope pairs a topic address with its message.
type Envelope struct {
	Address string  `json:"address"`
	Message Message `json:"message"`
}

// newEnvelope builds an Envelope from an arbitrary JSON-marshalable body.
func newEnvelope(address string, content interface{}, durable bool) (Envelope, error) {
	body, err := json.Marshal(content)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Address: address,
		Message: Message{
			ID:              uuid.NewString(),
			Body:            body,
			ContentType:     "application/json",
			ContentEncoding: "utf-8",
			Durable:         durable,
		},
	}, nil
}

// RequestEnvelope builds the per-request envelope: body is the request's
// public JSON (non-verbose).
func RequestEnvelope(address string, requestJSON map[string]interface{}, durable bool) (Envelope, error) {
	return newEnvelope(address, requestJSON, durable)
}

// BatchRequestRef is one entry of a batch envelope's requests list.
type BatchRequestRef struct {
	ID           int64  `json:"id"`
	Organization string `json:"organization,omitempty"`
	Type         string `json:"type"`
}

// batchBody is the per-batch envelope body from spec section 4.5.
type batchBody struct {
	Batch       int64                  `json:"batch"`
	Annotations map[string]interface{} `json:"annotations"`
	Requests    []BatchRequestRef      `json:"requests"`
	RequestIDs  []int64                `json:"request_ids"`
	State       string                 `json:"state"`
	User        string                 `json:"user"`
}

// BatchEnvelope builds the per-batch envelope. requestIDs is sorted
// ascending before being embedded, matching "request_ids(sorted)".
func BatchEnvelope(address string, batchID int64, annotations map[string]interface{}, requests []BatchRequestRef, state, user string, durable bool) (Envelope, error) {
	ids := make([]int64, 0, len(requests))
	for _, r := range requests {
		ids = append(ids, r.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	body := batchBody{
		Batch:       batchID,
		Annotations: annotations,
		Requests:    requests,
		RequestIDs:  ids,
		State:       state,
		User:        user,
	}
	return newEnvelope(address, body, durable)
}
