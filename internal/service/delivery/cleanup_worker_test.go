package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
	"github.com/vladislavdragonenkov/stockledger/internal/metrics"
	"github.com/vladislavdragonenkov/stockledger/internal/storage/memory"
)

func TestCleanupWorker_PurgeRemovesOnlyExpired(t *testing.T) {
	repo := memory.NewDeliveryRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, key := range []string{"evt-1", "evt-2", "evt-3"} {
		_, err := repo.Begin(ctx, key, "hash", now.Add(-time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.Begin(ctx, "evt-live", "hash", now.Add(time.Hour))
	require.NoError(t, err)

	worker := NewCleanupWorker(repo, WithBatchSize(2))
	deleted, err := worker.Purge(ctx, now)

	require.NoError(t, err)
	require.Equal(t, 3, deleted)

	_, err = repo.Get(ctx, "evt-1")
	require.ErrorIs(t, err, domain.ErrDeliveryNotFound)
	_, err = repo.Get(ctx, "evt-live")
	require.NoError(t, err)
}

func TestCleanupWorker_PurgeBatches(t *testing.T) {
	repo := &stubDeliveryRepo{results: []int{2, 2, 1}}

	deleted, err := NewCleanupWorker(repo, WithBatchSize(2)).Purge(context.Background(), time.Now())

	require.NoError(t, err)
	require.Equal(t, 5, deleted)
	require.Equal(t, 3, repo.callCount())
}

func TestCleanupWorker_PurgeError(t *testing.T) {
	repo := &stubDeliveryRepo{results: []int{10}, err: errors.New("boom")}

	deleted, err := NewCleanupWorker(repo, WithBatchSize(10)).Purge(context.Background(), time.Now())

	require.Error(t, err)
	require.Equal(t, 10, deleted)
}

func TestCleanupWorker_RunRecordsMetricsAndStops(t *testing.T) {
	repo := &stubDeliveryRepo{results: []int{1}}
	reg := prometheus.NewRegistry()

	worker := NewCleanupWorker(repo,
		WithInterval(5*time.Millisecond),
		WithMetrics(metrics.NewCleanupMetrics(reg)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	require.Eventually(t, func() bool { return repo.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup worker did not stop on context cancel")
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, family := range families {
		if family.GetName() == "stock_delivery_cleanup_deleted_total" {
			found = true
			require.Equal(t, 1.0, family.GetMetric()[0].GetCounter().GetValue())
		}
	}
	require.True(t, found)
}

// stubDeliveryRepo отдаёт заранее заданные результаты Purge, затем нули.
type stubDeliveryRepo struct {
	domain.DeliveryRepository

	mu      sync.Mutex
	results []int
	err     error
	calls   int
}

func (s *stubDeliveryRepo) Purge(context.Context, time.Time, int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if len(s.results) > 0 {
		n := s.results[0]
		s.results = s.results[1:]
		return n, nil
	}
	return 0, s.err
}

func (s *stubDeliveryRepo) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
