package bridge_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractionalev/ownership-ledger/internal/adapter"
	"github.com/fractionalev/ownership-ledger/internal/bridge"
	"github.com/fractionalev/ownership-ledger/internal/distribution"
	"github.com/fractionalev/ownership-ledger/internal/domain"
	"github.com/fractionalev/ownership-ledger/internal/logger"
	mockspkg "github.com/fractionalev/ownership-ledger/internal/mocks"
	"github.com/fractionalev/ownership-ledger/internal/store/schema"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

// testBridgeMocks contains all the mocks needed for testing the bridge
type testBridgeMocks struct {
	ctrl      *gomock.Controller
	natsJS    *mockspkg.MockNatsJetStream
	natsConn  *mockspkg.MockNatsConn
	jetStream *mockspkg.MockJetStream
	executor  *mockspkg.MockExecutor
}

// setupTestBridge creates all the mocks for testing
func setupTestBridge(t *testing.T) *testBridgeMocks {
	ctrl := gomock.NewController(t)

	return &testBridgeMocks{
		ctrl:      ctrl,
		natsJS:    mockspkg.NewMockNatsJetStream(ctrl),
		natsConn:  mockspkg.NewMockNatsConn(ctrl),
		jetStream: mockspkg.NewMockJetStream(ctrl),
		executor:  mockspkg.NewMockExecutor(ctrl),
	}
}

// tearDownTestBridge cleans up the test mocks
func tearDownTestBridge(mocks *testBridgeMocks) {
	mocks.ctrl.Finish()
}

func testConfig() bridge.Config {
	return bridge.Config{
		URL:            "nats://localhost:4222",
		StreamName:     "REVENUE",
		ConsumerName:   "revenue-bridge",
		MaxReconnects:  10,
		ReconnectWait:  1 * time.Second,
		ConnectionName: "test-bridge",
		AckWaitTimeout: 30 * time.Second,
		MaxDeliver:     5,
		RetryDelay:     10 * time.Second,
	}
}

func newBridge(t *testing.T, mocks *testBridgeMocks) bridge.Bridge {
	t.Helper()
	mocks.natsJS.
		EXPECT().
		Connect("nats://localhost:4222", gomock.Any()).
		Return(mocks.natsConn, mocks.jetStream, nil)

	b, err := bridge.NewBridge(testConfig(), mocks.natsJS, mocks.executor, adapter.NewJSON())
	require.NoError(t, err)
	require.NotNil(t, b)
	return b
}

// deliver runs the bridge, hands msg to the consumer callback and waits until the message is settled
func deliver(t *testing.T, mocks *testBridgeMocks, b bridge.Bridge, msg adapter.Message, settled <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handlerReady := make(chan adapter.MessageHandler, 1)
	consumer := mockspkg.NewMockNatsConsumer(mocks.ctrl)
	consumeContext := mockspkg.NewMockConsumeContext(mocks.ctrl)
	consumeContext.EXPECT().Stop().AnyTimes()

	consumer.EXPECT().
		Info(gomock.Any()).
		Return(&jetstream.ConsumerInfo{Name: "revenue-bridge"}, nil)
	consumer.EXPECT().
		Consume(gomock.Any()).
		DoAndReturn(func(handler adapter.MessageHandler, opts ...jetstream.PullConsumeOpt) (adapter.ConsumeContext, error) {
			handlerReady <- handler
			return consumeContext, nil
		})
	mocks.jetStream.EXPECT().
		CreateOrUpdateConsumer(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(consumer, nil)

	errChan := make(chan error, 1)
	go func() {
		errChan <- b.Run(ctx)
	}()

	select {
	case handler := <-handlerReady:
		handler(msg)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer was not started")
	}

	select {
	case <-settled:
	case <-time.After(5 * time.Second):
		t.Fatal("message was not settled")
	}

	cancel()
	select {
	case err := <-errChan:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop")
	}
}

func newMessage(mocks *testBridgeMocks, data []byte) *mockspkg.MockJetStreamMessage {
	msg := mockspkg.NewMockJetStreamMessage(mocks.ctrl)
	msg.EXPECT().Data().Return(data).AnyTimes()
	msg.EXPECT().Subject().Return("revenue.period_closed.A").AnyTimes()
	msg.EXPECT().Metadata().Return(&jetstream.MsgMetadata{NumDelivered: 1}, nil).AnyTimes()
	return msg
}

func closer(ch chan struct{}) func() error {
	return func() error {
		close(ch)
		return nil
	}
}

const novemberEvent = `{
	"event_id": "evt-42",
	"asset_id": "A",
	"period_start": "2025-11-01T00:00:00Z",
	"period_end": "2025-12-01T00:00:00Z",
	"total_revenue_minor": 100000,
	"currency": "NGN"
}`

func TestBridge_NewBridge_ConnectError(t *testing.T) {
	mocks := setupTestBridge(t)
	defer tearDownTestBridge(mocks)

	mocks.natsJS.
		EXPECT().
		Connect(gomock.Any(), gomock.Any()).
		Return(nil, nil, assert.AnError)

	b, err := bridge.NewBridge(testConfig(), mocks.natsJS, mocks.executor, adapter.NewJSON())

	assert.Error(t, err)
	assert.Nil(t, b)
	assert.Contains(t, err.Error(), "failed to connect to NATS")
}

func TestBridge_Run_CreateConsumerError(t *testing.T) {
	mocks := setupTestBridge(t)
	defer tearDownTestBridge(mocks)

	b := newBridge(t, mocks)
	config := testConfig()

	mocks.jetStream.
		EXPECT().
		CreateOrUpdateConsumer(gomock.Any(),
			"REVENUE",
			jetstream.ConsumerConfig{
				Durable:       config.ConsumerName,
				AckPolicy:     jetstream.AckExplicitPolicy,
				AckWait:       config.AckWaitTimeout,
				MaxDeliver:    config.MaxDeliver,
				FilterSubject: "revenue.period_closed.>",
			}).
		Return(nil, assert.AnError)

	err := b.Run(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create/update consumer")
}

func TestBridge_Run_ConsumerInfoError(t *testing.T) {
	mocks := setupTestBridge(t)
	defer tearDownTestBridge(mocks)

	b := newBridge(t, mocks)

	consumer := mockspkg.NewMockNatsConsumer(mocks.ctrl)
	consumer.EXPECT().
		Info(gomock.Any()).
		Return(nil, assert.AnError)
	mocks.jetStream.EXPECT().
		CreateOrUpdateConsumer(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(consumer, nil)

	err := b.Run(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get consumer info")
}

func TestBridge_Run_ConsumeError(t *testing.T) {
	mocks := setupTestBridge(t)
	defer tearDownTestBridge(mocks)

	b := newBridge(t, mocks)

	consumer := mockspkg.NewMockNatsConsumer(mocks.ctrl)
	consumer.EXPECT().
		Info(gomock.Any()).
		Return(&jetstream.ConsumerInfo{Name: "revenue-bridge"}, nil)
	consumer.EXPECT().
		Consume(gomock.Any()).
		Return(nil, assert.AnError)
	mocks.jetStream.EXPECT().
		CreateOrUpdateConsumer(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(consumer, nil)

	err := b.Run(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create subscription")
}

func TestBridge_ProcessMessage_Distributes(t *testing.T) {
	mocks := setupTestBridge(t)
	defer tearDownTestBridge(mocks)

	b := newBridge(t, mocks)
	settled := make(chan struct{})
	msg := newMessage(mocks, []byte(novemberEvent))

	mocks.executor.EXPECT().
		InitiateDistribution(gomock.Any(), distribution.InitiateInput{
			AssetID: "A",
			Period: domain.Period{
				Start: time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
				End:   time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
			},
			TotalRevenueMinor: 100000,
			Currency:          "NGN",
			IdempotencyKey:    "feed:evt-42",
		}).
		DoAndReturn(func(ctx context.Context, _ distribution.InitiateInput) (*distribution.Result, error) {
			assert.Equal(t, bridge.FeedActor, domain.ActorFromContext(ctx))
			return &distribution.Result{Run: &schema.DistributionRun{ID: "run_1"}}, nil
		})
	msg.EXPECT().Ack().DoAndReturn(closer(settled))

	deliver(t, mocks, b, msg, settled)
}

func TestBridge_ProcessMessage_PeriodLabel(t *testing.T) {
	mocks := setupTestBridge(t)
	defer tearDownTestBridge(mocks)

	b := newBridge(t, mocks)
	settled := make(chan struct{})
	msg := newMessage(mocks, []byte(`{"event_id":"evt-7","asset_id":"B","period":"2025-W45","total_revenue_minor":5000,"currency":"ngn"}`))

	mocks.executor.EXPECT().
		InitiateDistribution(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, input distribution.InitiateInput) (*distribution.Result, error) {
			assert.Equal(t, time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC), input.Period.Start)
			assert.Equal(t, time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC), input.Period.End)
			assert.Equal(t, "feed:evt-7", input.IdempotencyKey)
			return &distribution.Result{Run: &schema.DistributionRun{ID: "run_2"}}, nil
		})
	msg.EXPECT().Ack().DoAndReturn(closer(settled))

	deliver(t, mocks, b, msg, settled)
}

func TestBridge_ProcessMessage_DuplicateIsAcked(t *testing.T) {
	mocks := setupTestBridge(t)
	defer tearDownTestBridge(mocks)

	b := newBridge(t, mocks)
	settled := make(chan struct{})
	msg := newMessage(mocks, []byte(novemberEvent))

	mocks.executor.EXPECT().
		InitiateDistribution(gomock.Any(), gomock.Any()).
		Return(&distribution.Result{Run: &schema.DistributionRun{ID: "run_1"}, Duplicate: true}, nil)
	msg.EXPECT().Ack().DoAndReturn(closer(settled))

	deliver(t, mocks, b, msg, settled)
}

func TestBridge_ProcessMessage_InvalidPayloadIsTerminated(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: `{"event_id":`},
		{name: "missing event id", data: `{"asset_id":"A","period":"2025-11","total_revenue_minor":1}`},
		{name: "inverted period", data: `{"event_id":"e","asset_id":"A","period_start":"2025-12-01T00:00:00Z","period_end":"2025-11-01T00:00:00Z","total_revenue_minor":1}`},
		{name: "unknown period label", data: `{"event_id":"e","asset_id":"A","period":"Q4","total_revenue_minor":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mocks := setupTestBridge(t)
			defer tearDownTestBridge(mocks)

			b := newBridge(t, mocks)
			settled := make(chan struct{})
			msg := newMessage(mocks, []byte(tt.data))
			msg.EXPECT().Term().DoAndReturn(closer(settled))

			deliver(t, mocks, b, msg, settled)
		})
	}
}

func TestBridge_ProcessMessage_ErrorDispositions(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		retry bool
	}{
		{name: "asset not found", err: fmt.Errorf("%w: A", domain.ErrAssetNotFound), retry: false},
		{name: "no owners", err: domain.ErrNoOwners, retry: false},
		{name: "invalid amount", err: domain.ErrInvalidAmount, retry: false},
		{name: "invariant violation", err: &domain.RunError{RunID: "run_1", Err: domain.ErrInvariantViolation}, retry: false},
		{name: "idempotency conflict", err: domain.ErrIdempotencyConflict, retry: false},
		{name: "wrapped idempotency conflict", err: fmt.Errorf("%w: key feed:evt-1", domain.ErrIdempotencyConflict), retry: false},
		{name: "run in progress", err: domain.ErrRunInProgress, retry: true},
		{name: "persistence failure", err: &domain.RunError{RunID: "run_1", Err: domain.ErrPersistenceFailure}, retry: true},
		{name: "unexpected", err: assert.AnError, retry: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mocks := setupTestBridge(t)
			defer tearDownTestBridge(mocks)

			b := newBridge(t, mocks)
			settled := make(chan struct{})
			msg := newMessage(mocks, []byte(novemberEvent))

			mocks.executor.EXPECT().
				InitiateDistribution(gomock.Any(), gomock.Any()).
				Return(nil, tt.err)

			if tt.retry {
				msg.EXPECT().NakWithDelay(10 * time.Second).DoAndReturn(func(time.Duration) error {
					close(settled)
					return nil
				})
			} else {
				msg.EXPECT().Term().DoAndReturn(closer(settled))
			}

			deliver(t, mocks, b, msg, settled)
		})
	}
}

func TestBridge_Close(t *testing.T) {
	mocks := setupTestBridge(t)
	defer tearDownTestBridge(mocks)

	b := newBridge(t, mocks)
	mocks.natsConn.EXPECT().Close()

	b.Close()
}
