package stock

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
	"github.com/vladislavdragonenkov/stockledger/internal/storage/memory"
)

type fixture struct {
	ledger  *memory.Ledger
	outbox  *memory.OutboxRepository
	service *Service
}

func newFixture(t *testing.T, options ...Option) fixture {
	t.Helper()

	outbox := memory.NewOutboxRepository()
	ledger := memory.NewLedger(memory.WithOutbox(outbox))
	ctx := context.Background()

	require.NoError(t, ledger.CreateProduct(ctx, domain.Product{ID: "p1", Name: "Widget", Stock: 50}))
	require.NoError(t, ledger.CreateVariant(ctx, domain.Variant{ID: "v1", ProductID: "p1", Name: "Widget L", Stock: 30}))
	require.NoError(t, ledger.CreateProduct(ctx, domain.Product{ID: "p2", Name: "Gadget", Stock: 3}))
	require.NoError(t, ledger.CreateVariant(ctx, domain.Variant{ID: "v2", ProductID: "p2", Name: "Gadget XL", Stock: 8}))

	return fixture{
		ledger:  ledger,
		outbox:  outbox,
		service: NewService(ledger, options...),
	}
}

func (f fixture) productStock(t *testing.T, id string) int {
	t.Helper()
	products, _ := f.ledger.Snapshot()
	stock, ok := products[id]
	require.True(t, ok, "product %s not found", id)
	return stock
}

func (f fixture) variantStock(t *testing.T, id string) int {
	t.Helper()
	_, variants := f.ledger.Snapshot()
	stock, ok := variants[id]
	require.True(t, ok, "variant %s not found", id)
	return stock
}

func (f fixture) history(t *testing.T, filter domain.HistoryFilter) []domain.StockHistoryRecord {
	t.Helper()
	records, err := f.ledger.ListHistory(context.Background(), filter)
	require.NoError(t, err)
	return records
}

// outboxFailingLedger пропускает транзакцию до записи в outbox и роняет её там.
type outboxFailingLedger struct {
	domain.StockLedger
	fail bool
}

func (l *outboxFailingLedger) WithinTx(ctx context.Context, fn func(context.Context, domain.StockLedgerTx) error) error {
	return l.StockLedger.WithinTx(ctx, func(ctx context.Context, tx domain.StockLedgerTx) error {
		if l.fail {
			tx = outboxFailingTx{StockLedgerTx: tx}
		}
		return fn(ctx, tx)
	})
}

type outboxFailingTx struct {
	domain.StockLedgerTx
}

func (outboxFailingTx) EnqueueOutbox(context.Context, domain.OutboxMessage) error {
	return fmt.Errorf("%w: outbox table unavailable", domain.ErrStoreFailure)
}

// failingLedger возвращает инфраструктурную ошибку на каждую транзакцию.
type failingLedger struct {
	domain.StockLedger
}

func (failingLedger) WithinTx(context.Context, func(context.Context, domain.StockLedgerTx) error) error {
	return fmt.Errorf("%w: connection refused", domain.ErrStoreFailure)
}

type fakeCache struct {
	mu      sync.Mutex
	values  map[domain.StockTarget]int
	deleted []domain.StockTarget
	gets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[domain.StockTarget]int)}
}

func (c *fakeCache) Get(_ context.Context, target domain.StockTarget) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	stock, ok := c.values[target]
	return stock, ok, nil
}

func (c *fakeCache) Set(_ context.Context, target domain.StockTarget, stock int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[target] = stock
	return nil
}

func (c *fakeCache) Delete(_ context.Context, targets ...domain.StockTarget) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, target := range targets {
		delete(c.values, target)
		c.deleted = append(c.deleted, target)
	}
	return nil
}

func purchase(reason string) MutationOptions {
	return MutationOptions{Reason: reason, Type: domain.StockChangePurchase}
}
