package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Canonical message kinds. The envelope's TopicName tags the payload type;
// broker adapters may map a kind to a differently named transport topic.
const (
	TopicContentRaw = "content-raw"
	TopicQuery      = "query"
)

// ErrUnknownTopic marks an envelope whose topic_name tag matches no known
// message kind. Such messages are malformed and must not be redelivered.
var ErrUnknownTopic = errors.New("unknown topic name")

// Envelope is the header carried by every broker payload.
type Envelope struct {
	RequestID        string            `json:"request_id"`
	TopicName        string            `json:"topic_name"`
	TelemetryHeaders map[string]string `json:"telemetry_headers,omitempty"`
}

// ContentMessage carries one raw article on the content-raw topic.
type ContentMessage struct {
	Envelope
	RawContent RawArticle `json:"raw_content"`
}

// QueryMessage carries one user query on the query topic.
type QueryMessage struct {
	Envelope
	QueryRequest QueryRequest `json:"query_request"`
}

// NewContentMessage builds a content envelope for a raw article.
func NewContentMessage(requestID string, raw RawArticle, headers map[string]string) ContentMessage {
	return ContentMessage{
		Envelope: Envelope{
			RequestID:        requestID,
			TopicName:        TopicContentRaw,
			TelemetryHeaders: headers,
		},
		RawContent: raw,
	}
}

// NewQueryMessage builds a query envelope for a user request.
func NewQueryMessage(requestID string, qr QueryRequest, headers map[string]string) QueryMessage {
	return QueryMessage{
		Envelope: Envelope{
			RequestID:        requestID,
			TopicName:        TopicQuery,
			TelemetryHeaders: headers,
		},
		QueryRequest: qr,
	}
}

// ParseEnvelope decodes just the envelope header of a broker payload.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	if env.TopicName != TopicContentRaw && env.TopicName != TopicQuery {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownTopic, env.TopicName)
	}
	return env, nil
}

// DecodeMessage decodes a full broker payload into its concrete message
// type, dispatching on the envelope's topic_name tag.
func DecodeMessage(data []byte) (any, error) {
	env, err := ParseEnvelope(data)
	if err != nil {
		return nil, err
	}
	switch env.TopicName {
	case TopicContentRaw:
		var m ContentMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse content message: %w", err)
		}
		return m, nil
	case TopicQuery:
		var m QueryMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse query message: %w", err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, env.TopicName)
}
