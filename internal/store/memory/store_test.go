package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractionalev/ownership-ledger/internal/domain"
	"github.com/fractionalev/ownership-ledger/internal/store"
	"github.com/fractionalev/ownership-ledger/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.RunStoreTests(t, func(t *testing.T) store.Store {
		return NewStore()
	})
}

func TestConcurrentGrantsNeverOverAllocate(t *testing.T) {
	s := NewStore()
	storetest.CreateTestAsset(t, s, "A")

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CreateGrant(context.Background(), store.CreateGrantInput{
				ID:          fmt.Sprintf("grt_%02d", i),
				AssetID:     "A",
				InvestorID:  fmt.Sprintf("investor-%02d", i),
				FractionBps: 700,
				Currency:    "NGN",
				At:          time.Now(),
			})
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrOverAllocation)
				return
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	// 14 * 700 = 9800, a 15th grant would need 10500
	assert.Equal(t, 14, succeeded)
	allocated, err := s.GetAllocatedBasisPoints(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 9800, allocated)
}

func TestAssetLockSerializesGrants(t *testing.T) {
	s := NewStore()
	storetest.CreateTestAsset(t, s, "A")
	storetest.CreateTestAsset(t, s, "B")

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- s.WithAssetLock(context.Background(), "A", func(ctx context.Context) error {
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	granted := make(chan struct{})
	go func() {
		_, err := s.CreateGrant(context.Background(), store.CreateGrantInput{
			ID: "grt_a", AssetID: "A", InvestorID: "X", FractionBps: 100, Currency: "NGN", At: time.Now(),
		})
		assert.NoError(t, err)
		close(granted)
	}()

	// A different asset is not blocked
	_, err := s.CreateGrant(context.Background(), store.CreateGrantInput{
		ID: "grt_b", AssetID: "B", InvestorID: "X", FractionBps: 100, Currency: "NGN", At: time.Now(),
	})
	require.NoError(t, err)

	select {
	case <-granted:
		t.Fatal("grant on a locked asset completed while the lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)
	select {
	case <-granted:
	case <-time.After(time.Second):
		t.Fatal("grant did not complete after the lock was released")
	}
}
