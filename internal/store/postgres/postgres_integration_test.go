//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"washly/backend/internal/domain"
	"washly/backend/internal/reconcile"
	"washly/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("caja_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(zap.NewNop()))
	// applying twice is a no-op
	require.NoError(t, s.Migrate(zap.NewNop()))

	for _, m := range domain.DefaultPaymentMethods("t1", time.Now()) {
		_, err := s.CreatePaymentMethod(ctx, m)
		require.NoError(t, err)
	}
	return s
}

func TestIntegrationConcurrentOpenAllowsOne(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		opened   int
		conflict int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateSession(ctx, domain.CashSession{TenantID: "t1", OperatorID: "ana", OpeningCash: decimal.NewFromInt(100)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				opened++
			case errors.Is(err, domain.ErrSessionAlreadyOpen):
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 9, conflict)
}

func TestIntegrationCloseSeesEveryCommittedAppend(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, domain.CashSession{
		TenantID:       "t1",
		OperatorID:     "ana",
		OpeningCash:    decimal.RequireFromString("100.00"),
		OpeningDigital: domain.Snapshot{"YAPE": decimal.RequireFromString("20.00")},
	})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed = decimal.Zero
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := s.CreateSalePayment(ctx, domain.SalePayment{
				TenantID: "t1", SessionID: session.ID, Number: fmt.Sprintf("PAG-250310-%04d", i), SaleRef: "T-1",
				Amount: decimal.RequireFromString("1.50"), MethodCode: "CASH", MethodName: "Efectivo", CreatedBy: "ana",
			})
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrSessionClosed)
				return
			}
			mu.Lock()
			committed = committed.Add(p.Amount)
			mu.Unlock()
		}()
	}

	methods, err := s.ListPaymentMethods(ctx, "t1")
	require.NoError(t, err)
	closed, err := s.CloseSession(ctx, "t1", session.ID, time.Now(), func(ledger domain.SessionLedger) (domain.Settlement, error) {
		settlement, _ := reconcile.Settle(ledger, methods, decimal.RequireFromString("120.00"), domain.Snapshot{}, "")
		return settlement, nil
	})
	require.NoError(t, err)
	wg.Wait()

	// every payment that committed before the close is in the frozen expected
	// total, and nothing committed after it
	want := decimal.RequireFromString("120.00").Add(committed)
	require.NotNil(t, closed.ExpectedTotal)
	assert.True(t, want.Equal(*closed.ExpectedTotal), "expected %s got %s", want, closed.ExpectedTotal)

	ledger, err := s.GetSessionLedger(ctx, "t1", session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateClosed, ledger.Session.State)
	assert.True(t, want.Equal(ledger.Session.OpeningCash.Add(ledger.Session.OpeningDigital.Total()).Add(committed)))
}

func TestIntegrationVoidLifecycle(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	now := time.Now()
	today := domain.LocalDayOf(time.UTC, now)

	session, err := s.CreateSession(ctx, domain.CashSession{TenantID: "t1", OperatorID: "luis", OpeningCash: decimal.Zero})
	require.NoError(t, err)
	p, err := s.CreateSalePayment(ctx, domain.SalePayment{
		TenantID: "t1", SessionID: session.ID, Number: "PAG-2", SaleRef: "T-2",
		Amount: decimal.RequireFromString("30.00"), MethodCode: "YAPE", MethodName: "Yape", CreatedBy: "luis", CreatedAt: now,
	})
	require.NoError(t, err)

	_, err = s.CreateSalePayment(ctx, domain.SalePayment{
		TenantID: "t1", SessionID: session.ID, Number: "PAG-2", SaleRef: "T-3",
		Amount: decimal.RequireFromString("5.00"), MethodCode: "CASH", MethodName: "Efectivo", CreatedBy: "luis", CreatedAt: now,
	})
	assert.ErrorIs(t, err, store.ErrDuplicateNumber)

	voided, err := s.VoidSalePayment(ctx, "t1", p.ID, "luis", now, today)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStateVoided, voided.State)

	_, err = s.VoidSalePayment(ctx, "t1", p.ID, "luis", now, today)
	assert.ErrorIs(t, err, domain.ErrAlreadyVoided)

	stored, err := s.GetSalePayment(ctx, "t1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStateVoided, stored.State)
	assert.Equal(t, "luis", stored.VoidedBy)

	rangeLedger, err := s.GetRangeLedger(ctx, "t1", today)
	require.NoError(t, err)
	assert.Len(t, rangeLedger.Payments, 1)
	assert.Len(t, rangeLedger.Sessions, 1)
}
