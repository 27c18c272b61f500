// Package services holds the gateway's domain logic, decoupled from HTTP.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sportswire/sportswire/pkg/broker"
	"github.com/sportswire/sportswire/pkg/models"
	"github.com/sportswire/sportswire/pkg/state"
	"github.com/sportswire/sportswire/pkg/telemetry"
)

// maxQueryChars bounds user queries before they reach the LLM.
const maxQueryChars = 1000

// QueryService handles query submission and status retrieval.
type QueryService struct {
	requests *state.RequestStore
	bus      broker.Broker
	topic    string
	logger   *slog.Logger
}

// NewQueryService creates a new QueryService. An empty topic selects the
// default query topic.
func NewQueryService(requests *state.RequestStore, bus broker.Broker, topic string) *QueryService {
	if requests == nil {
		panic("NewQueryService: requests must not be nil")
	}
	if bus == nil {
		panic("NewQueryService: bus must not be nil")
	}
	if topic == "" {
		topic = models.TopicQuery
	}
	return &QueryService{
		requests: requests,
		bus:      bus,
		topic:    topic,
		logger:   slog.Default().With("component", "query-service"),
	}
}

// SubmitQuery records a new request in the Gateway stage and enqueues it for
// the query workers. The caller polls GetQueryStatus for the outcome.
func (s *QueryService) SubmitQuery(ctx context.Context, qr models.QueryRequest) (models.QueryResponse, error) {
	if err := validateQuery(qr); err != nil {
		return models.QueryResponse{}, err
	}

	requestID := uuid.New().String()

	if err := s.requests.Create(ctx, state.NewRequest(requestID, qr)); err != nil {
		return models.QueryResponse{}, fmt.Errorf("create request record: %w", err)
	}

	msg := models.NewQueryMessage(requestID, qr, telemetry.Inject(ctx))
	payload, err := json.Marshal(msg)
	if err != nil {
		return models.QueryResponse{}, fmt.Errorf("encode query message: %w", err)
	}

	pubCtx, span := telemetry.Tracer("query-service").Start(ctx, s.topic+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("messaging.destination.name", s.topic)))
	err = s.bus.Publish(pubCtx, s.topic, payload)
	span.End()
	if err != nil {
		return models.QueryResponse{}, fmt.Errorf("publish query: %w", err)
	}

	telemetry.QueriesSubmitted.Inc()
	s.logger.Info("Query submitted", "request_id", requestID)

	return models.QueryResponse{
		RequestID: requestID,
		Status:    models.StatusAccepted,
	}, nil
}

// GetQueryStatus returns the current request record.
func (s *QueryService) GetQueryStatus(ctx context.Context, requestID string) (*models.ProcessedRequest, error) {
	if requestID == "" {
		return nil, NewValidationError("request_id", "request id is required")
	}
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("load request record: %w", err)
	}
	if req == nil {
		return nil, fmt.Errorf("query %s: %w", requestID, ErrNotFound)
	}
	return req, nil
}

func validateQuery(qr models.QueryRequest) error {
	if qr.Query == "" {
		return NewValidationError("query", "query is required")
	}
	if len([]rune(qr.Query)) > maxQueryChars {
		return NewValidationError("query", fmt.Sprintf("query exceeds %d characters", maxQueryChars))
	}
	if f := qr.Filters; f != nil && f.DateFrom != nil && f.DateTo != nil && f.DateTo.Before(*f.DateFrom) {
		return NewValidationError("filters", "date_to precedes date_from")
	}
	return nil
}
