package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Xushengqwer/user_event_consumer/internal/metrics"
	"github.com/Xushengqwer/user_event_consumer/internal/models"
)

type markedOffset struct {
	topic     string
	partition int32
	offset    int64
}

type fakeSession struct {
	ctx context.Context

	mu      sync.Mutex
	marked  []markedOffset
	commits int
}

func (s *fakeSession) Claims() map[string][]int32 { return map[string][]int32{registrationTopic: {0}} }
func (s *fakeSession) MemberID() string           { return "member-1" }
func (s *fakeSession) GenerationID() int32        { return 1 }
func (s *fakeSession) MarkOffset(topic string, partition int32, offset int64, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, markedOffset{topic: topic, partition: partition, offset: offset})
}
func (s *fakeSession) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
}
func (s *fakeSession) ResetOffset(string, int32, int64, string)    {}
func (s *fakeSession) MarkMessage(*sarama.ConsumerMessage, string) {}
func (s *fakeSession) Context() context.Context                    { return s.ctx }

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return registrationTopic }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func claimWith(values ...string) *fakeClaim {
	ch := make(chan *sarama.ConsumerMessage, len(values))
	for i, v := range values {
		ch <- &sarama.ConsumerMessage{
			Topic:     registrationTopic,
			Partition: 0,
			Offset:    int64(10 + i),
			Value:     []byte(v),
		}
	}
	close(ch)
	return &fakeClaim{messages: ch}
}

type recordingDeliveryHandler struct {
	mu         sync.Mutex
	deliveries []models.DeliveryContext
	inner      DeliveryHandler
}

func (h *recordingDeliveryHandler) HandleDelivery(ctx context.Context, dc models.DeliveryContext, committer OffsetCommitter) error {
	h.mu.Lock()
	h.deliveries = append(h.deliveries, dc)
	h.mu.Unlock()
	return h.inner.HandleDelivery(ctx, dc, committer)
}

func TestConsumeClaimProcessesInOrderAndCommitsSuccesses(t *testing.T) {
	t.Parallel()

	handler := &recordingHandler{}
	failover := &fakeFailover{}
	gateway := NewConsumerGateway(zaptest.NewLogger(t), NewRegistrationProcessor(zaptest.NewLogger(t), handler), failover, 0)
	recorder := &recordingDeliveryHandler{inner: gateway}
	h := NewDeliveryConsumerGroupHandler(zaptest.NewLogger(t), recorder)

	session := &fakeSession{ctx: context.Background()}
	claim := claimWith(
		`{"email":"a@b.com","nickname":"a"}`,
		`{"nickname":"no-email"}`,
		`{"email":"c@d.com","nickname":"c"}`,
	)

	require.NoError(t, h.ConsumeClaim(session, claim))

	require.Len(t, recorder.deliveries, 3)
	for i, dc := range recorder.deliveries {
		assert.Equal(t, []string{"10", "11", "12"}[i], dc.Offset)
	}

	// 第二条消息失败: 不提交，进入故障转移；第三条成功后继续提交
	assert.Equal(t, []markedOffset{
		{topic: registrationTopic, partition: 0, offset: 11},
		{topic: registrationTopic, partition: 0, offset: 13},
	}, session.marked)
	assert.Equal(t, 2, session.commits)
	require.Len(t, failover.contexts, 1)
	assert.Equal(t, "11", failover.contexts[0].Offset)
}

type failingDeliveryHandler struct{ err error }

func (h failingDeliveryHandler) HandleDelivery(context.Context, models.DeliveryContext, OffsetCommitter) error {
	return h.err
}

func TestConsumeClaimReportsFatalError(t *testing.T) {
	t.Parallel()

	fatal := &CommitError{Topic: registrationTopic, Offset: "11", Err: errors.New("rejected")}
	h := NewDeliveryConsumerGroupHandler(zaptest.NewLogger(t), failingDeliveryHandler{err: fatal})

	err := h.ConsumeClaim(&fakeSession{ctx: context.Background()}, claimWith(`{}`, `{}`))
	assert.ErrorIs(t, err, fatal)

	select {
	case got := <-h.Fatal():
		assert.ErrorIs(t, got, fatal)
	default:
		t.Fatal("expected fatal error to be reported")
	}
}

func TestConsumeClaimStopsWhenSessionEnds(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := NewDeliveryConsumerGroupHandler(zaptest.NewLogger(t), failingDeliveryHandler{})

	open := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}
	assert.NoError(t, h.ConsumeClaim(&fakeSession{ctx: ctx}, open))
}

func TestSetupClosesReadyOnce(t *testing.T) {
	t.Parallel()

	h := NewDeliveryConsumerGroupHandler(zaptest.NewLogger(t), failingDeliveryHandler{})
	session := &fakeSession{ctx: context.Background()}

	require.NoError(t, h.Setup(session))
	require.NoError(t, h.Setup(session), "rebalance must not close ready twice")
	require.NoError(t, h.Cleanup(session))

	select {
	case <-h.Ready():
	default:
		t.Fatal("ready should be closed after Setup")
	}
}

func TestSessionCommitterRejectsBadOffsets(t *testing.T) {
	t.Parallel()

	session := &fakeSession{ctx: context.Background()}
	c := &sessionCommitter{session: session}

	err := c.Commit(context.Background(), []models.TopicPartitionOffset{{Topic: "t", Partition: 0, Offset: "x"}})
	assert.Error(t, err)
	assert.Empty(t, session.marked)
	assert.Zero(t, session.commits)
}

type fakeGroup struct {
	errs    chan error
	consume func(ctx context.Context, handler sarama.ConsumerGroupHandler) error
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, handler sarama.ConsumerGroupHandler) error {
	return g.consume(ctx, handler)
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }

func TestRunConsumerGroupStopsOnCancel(t *testing.T) {
	t.Parallel()

	group := &fakeGroup{
		errs: make(chan error),
		consume: func(ctx context.Context, _ sarama.ConsumerGroupHandler) error {
			<-ctx.Done()
			return nil
		},
	}
	h := NewDeliveryConsumerGroupHandler(zaptest.NewLogger(t), failingDeliveryHandler{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runConsumerGroup(ctx, group, []string{registrationTopic}, h, zaptest.NewLogger(t)) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runConsumerGroup did not stop after cancel")
	}
}

func TestRunConsumerGroupReturnsFatalError(t *testing.T) {
	t.Parallel()

	fatal := &CommitError{Topic: registrationTopic, Offset: "11", Err: errors.New("rejected")}
	group := &fakeGroup{
		errs: make(chan error),
		consume: func(ctx context.Context, handler sarama.ConsumerGroupHandler) error {
			session := &fakeSession{ctx: ctx}
			_ = handler.ConsumeClaim(session, claimWith(`{}`))
			<-ctx.Done()
			return nil
		},
	}
	h := NewDeliveryConsumerGroupHandler(zaptest.NewLogger(t), failingDeliveryHandler{err: fatal})

	err := runConsumerGroup(context.Background(), group, []string{registrationTopic}, h, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, fatal)
}

func blockUntilDone(ctx context.Context, _ sarama.ConsumerGroupHandler) error {
	<-ctx.Done()
	return nil
}

func TestRunConsumerGroupTreatsRejectedCommitAsFatal(t *testing.T) {
	t.Parallel()

	// 独立的主题标签，避免与其他并行测试的计数互相干扰
	const topic = "user.registration.rejected-commit"
	before := testutil.ToFloat64(metrics.CommitFailuresTotal.WithLabelValues(topic))

	group := &fakeGroup{errs: make(chan error, 1), consume: blockUntilDone}
	group.errs <- &sarama.ConsumerError{Topic: topic, Partition: 3, Err: sarama.ErrOffsetMetadataTooLarge}
	h := NewDeliveryConsumerGroupHandler(zaptest.NewLogger(t), failingDeliveryHandler{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := runConsumerGroup(ctx, group, []string{topic}, h, zaptest.NewLogger(t))

	var commitErr *CommitError
	require.ErrorAs(t, err, &commitErr)
	assert.Equal(t, topic, commitErr.Topic)
	assert.Equal(t, int32(3), commitErr.Partition)
	assert.ErrorIs(t, err, sarama.ErrOffsetMetadataTooLarge)
	assert.NoError(t, ctx.Err(), "must stop on the rejected commit, not on the timeout")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.CommitFailuresTotal.WithLabelValues(topic)))
}

func TestRunConsumerGroupOnlyLogsOtherGroupErrors(t *testing.T) {
	t.Parallel()

	for _, groupErr := range []error{
		errors.New("fetch failed"),
		&sarama.ConsumerError{Topic: registrationTopic, Partition: 0, Err: sarama.ErrRebalanceInProgress},
		&sarama.ConsumerError{Topic: registrationTopic, Partition: 0, Err: sarama.ErrOutOfBrokers},
	} {
		core, logs := observer.New(zap.ErrorLevel)
		group := &fakeGroup{errs: make(chan error, 1), consume: blockUntilDone}
		group.errs <- groupErr
		h := NewDeliveryConsumerGroupHandler(zaptest.NewLogger(t), failingDeliveryHandler{})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- runConsumerGroup(ctx, group, []string{registrationTopic}, h, zap.New(core)) }()

		require.Eventually(t, func() bool {
			return logs.FilterMessage("Kafka 消费者组报告错误").Len() == 1
		}, 5*time.Second, 10*time.Millisecond, groupErr.Error())
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err, groupErr.Error())
		case <-time.After(5 * time.Second):
			t.Fatal("runConsumerGroup did not stop after cancel")
		}
	}
}
