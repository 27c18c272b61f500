package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sportswire/sportswire/pkg/models"
)

// RequestStore is the typed view of the state store for ProcessedRequest
// documents. It owns the stage machine: a patch carrying an illegal stage
// transition fails the whole update, so a terminal Completed or Failed stage
// can never be clobbered by a late writer.
type RequestStore struct {
	store *Store
}

// NewRequestStore wraps a state store.
// Panics if store is nil.
func NewRequestStore(store *Store) *RequestStore {
	if store == nil {
		panic("state.NewRequestStore: store must not be nil")
	}
	return &RequestStore{store: store}
}

// Create persists a new request record with the default TTL.
func (r *RequestStore) Create(ctx context.Context, req models.ProcessedRequest) error {
	doc, err := toDoc(req)
	if err != nil {
		return err
	}
	return r.store.Create(ctx, req.RequestID, doc)
}

// Get returns the request record, or nil when unknown.
func (r *RequestStore) Get(ctx context.Context, requestID string) (*models.ProcessedRequest, error) {
	doc, err := r.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return fromDoc(doc)
}

// Update shallow-merges patch into the request record. When patch carries a
// stage, the transition is validated against the current stage inside the
// atomic merge; an illegal transition returns ErrStaleTransition and leaves
// the record untouched. Returns nil when the request is unknown.
func (r *RequestStore) Update(ctx context.Context, requestID string, patch map[string]any) (*models.ProcessedRequest, error) {
	merged, err := r.store.UpdateFunc(ctx, requestID, func(doc map[string]any) (map[string]any, error) {
		if next, ok := patch["stage"]; ok {
			cur, _ := doc["stage"].(string)
			nextStage, _ := next.(string)
			if !models.ValidStageTransition(models.RequestStage(cur), models.RequestStage(nextStage)) {
				return nil, fmt.Errorf("%w: %s -> %s", ErrStaleTransition, cur, nextStage)
			}
		}
		for k, v := range patch {
			doc[k] = v
		}
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	if merged == nil {
		return nil, nil
	}
	return fromDoc(merged)
}

// SetStage advances the request to stage.
func (r *RequestStore) SetStage(ctx context.Context, requestID string, stage models.RequestStage) error {
	_, err := r.Update(ctx, requestID, map[string]any{"stage": string(stage)})
	return err
}

// Complete writes the query result and moves the request to Completed in one
// atomic update.
func (r *RequestStore) Complete(ctx context.Context, requestID string, result models.QueryResult) error {
	resultDoc, err := toDoc(result)
	if err != nil {
		return err
	}
	_, err = r.Update(ctx, requestID, map[string]any{
		"query_result": resultDoc,
		"stage":        string(models.StageCompleted),
	})
	return err
}

// Fail records the failure reason and moves the request to Failed.
func (r *RequestStore) Fail(ctx context.Context, requestID, errorMessage string) error {
	_, err := r.Update(ctx, requestID, map[string]any{
		"stage":         string(models.StageFailed),
		"error_message": errorMessage,
	})
	return err
}

// Delete removes the request record.
func (r *RequestStore) Delete(ctx context.Context, requestID string) (bool, error) {
	return r.store.Delete(ctx, requestID)
}

// Healthy pings the backing store.
func (r *RequestStore) Healthy(ctx context.Context) error {
	return r.store.Healthy(ctx)
}

func toDoc(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal request record: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode request record: %w", err)
	}
	return doc, nil
}

func fromDoc(doc map[string]any) (*models.ProcessedRequest, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal request record: %w", err)
	}
	var req models.ProcessedRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode request record: %w", err)
	}
	return &req, nil
}

// NewRequest builds the initial record for a freshly accepted query.
func NewRequest(requestID string, qr models.QueryRequest) models.ProcessedRequest {
	now := time.Now().UTC()
	return models.ProcessedRequest{
		RequestID:    requestID,
		QueryRequest: qr,
		Stage:        models.StageGateway,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
