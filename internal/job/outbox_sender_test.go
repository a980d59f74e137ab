package job

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"paysettle/internal/infrastructure/database"
	"paysettle/internal/infrastructure/mq"
	"paysettle/internal/model"
	"paysettle/internal/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenInMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedOutbox(t *testing.T, db *gorm.DB, n int) {
	t.Helper()
	repo := repository.NewOutboxRepository(db)
	for i := 0; i < n; i++ {
		require.NoError(t, repo.Create(context.Background(), nil, &model.OutboxMessage{
			AggregateID: int64(i + 1),
			EventType:   model.SettlementEventTransitioned,
			MessageKey:  "ORD-1",
			Topic:       "settlement.result",
			Payload:     `{"status":"APPROVED"}`,
			Status:      model.OutboxStatusPending,
		}))
	}
}

func outboxStatuses(t *testing.T, db *gorm.DB) []model.OutboxMessage {
	t.Helper()
	var msgs []model.OutboxMessage
	require.NoError(t, db.Order("id ASC").Find(&msgs).Error)
	return msgs
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(topic, key, value string) error {
	p.calls++
	return errors.New("broker unavailable")
}

func (p *failingPublisher) Close() error { return nil }

func TestOutboxSender_PublishesToKafka(t *testing.T) {
	db := newTestDB(t)
	seedOutbox(t, db, 2)

	producer := mocks.NewSyncProducer(t, mq.NewProducerConfig())
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndSucceed()
	publisher := mq.NewKafkaPublisher(producer)
	defer publisher.Close()

	sender := NewOutboxSender(db, publisher, 3)
	sender.processPendingMessages(context.Background())

	for _, msg := range outboxStatuses(t, db) {
		assert.Equal(t, model.OutboxStatusSent, msg.Status)
	}
}

func TestOutboxSender_RetriesThenFails(t *testing.T) {
	db := newTestDB(t)
	seedOutbox(t, db, 1)

	publisher := &failingPublisher{}
	sender := NewOutboxSender(db, publisher, 3)

	sender.processPendingMessages(context.Background())
	sender.processPendingMessages(context.Background())
	msgs := outboxStatuses(t, db)
	assert.Equal(t, model.OutboxStatusPending, msgs[0].Status)
	assert.Equal(t, 2, msgs[0].RetryCount)

	sender.processPendingMessages(context.Background())
	msgs = outboxStatuses(t, db)
	assert.Equal(t, model.OutboxStatusFailed, msgs[0].Status)
	assert.Equal(t, 3, msgs[0].RetryCount)

	// FAILED 不再投递
	sender.processPendingMessages(context.Background())
	assert.Equal(t, 3, publisher.calls)
}

func TestOutboxSender_KafkaErrorCountsAsRetry(t *testing.T) {
	db := newTestDB(t)
	seedOutbox(t, db, 1)

	producer := mocks.NewSyncProducer(t, mq.NewProducerConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	publisher := mq.NewKafkaPublisher(producer)
	defer publisher.Close()

	NewOutboxSender(db, publisher, 5).processPendingMessages(context.Background())

	msgs := outboxStatuses(t, db)
	assert.Equal(t, model.OutboxStatusPending, msgs[0].Status)
	assert.Equal(t, 1, msgs[0].RetryCount)
}

func TestOutboxSender_StartStops(t *testing.T) {
	sender := NewOutboxSender(newTestDB(t), &failingPublisher{}, 1)
	done := make(chan struct{})
	go func() {
		sender.Start(context.Background())
		close(done)
	}()
	sender.Stop()
	<-done
}
