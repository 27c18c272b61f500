package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportswire/sportswire/pkg/articles"
	"github.com/sportswire/sportswire/pkg/config"
	"github.com/sportswire/sportswire/pkg/models"
)

// fakeStore records DeleteOlderThan calls; the other Store methods are inert.
type fakeStore struct {
	mu      sync.Mutex
	cutoffs []time.Time
	deleted int64
	err     error
}

func (f *fakeStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.deleted, f.err
}

func (f *fakeStore) sweeps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func (f *fakeStore) lastCutoff() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cutoffs[len(f.cutoffs)-1]
}

func (f *fakeStore) StoreArticle(context.Context, *models.ProcessedArticle) error { return nil }

func (f *fakeStore) ArticleExists(context.Context, string, string) (bool, error) {
	return false, nil
}

func (f *fakeStore) QueryArticles(context.Context, articles.QueryParams) ([]models.ProcessedArticle, error) {
	return nil, nil
}

func (f *fakeStore) SearchArticles(context.Context, string, int) ([]models.ProcessedArticle, error) {
	return nil, nil
}

func (f *fakeStore) Healthy(context.Context) bool { return true }

func TestService_SweepUsesRetentionCutoff(t *testing.T) {
	store := &fakeStore{deleted: 3}
	svc := NewService(config.RetentionConfig{
		ArticleRetentionDays: 30,
		CleanupInterval:      time.Hour,
	}, store)

	svc.sweep(context.Background())

	require.Equal(t, 1, store.sweeps())
	want := time.Now().UTC().AddDate(0, 0, -30)
	assert.WithinDuration(t, want, store.lastCutoff(), time.Minute)
}

func TestService_SweepErrorIsNotFatal(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	svc := NewService(config.RetentionConfig{
		ArticleRetentionDays: 30,
		CleanupInterval:      time.Hour,
	}, store)

	svc.sweep(context.Background())
	svc.sweep(context.Background())

	assert.Equal(t, 2, store.sweeps())
}

func TestService_StartSweepsImmediatelyAndOnTicks(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(config.RetentionConfig{
		ArticleRetentionDays: 7,
		CleanupInterval:      20 * time.Millisecond,
	}, store)

	svc.Start(context.Background())
	require.Eventually(t, func() bool { return store.sweeps() >= 2 },
		2*time.Second, 5*time.Millisecond, "expected the immediate sweep plus at least one tick")

	svc.Stop()
	after := store.sweeps()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, store.sweeps(), "no sweeps after Stop")
}

func TestService_DisabledWithoutRetentionWindow(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(config.RetentionConfig{
		ArticleRetentionDays: 0,
		CleanupInterval:      10 * time.Millisecond,
	}, store)

	svc.Start(context.Background())
	svc.Stop()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, store.sweeps())
}
