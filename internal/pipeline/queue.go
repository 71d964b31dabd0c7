package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/andresfranco/portfolio-suite-sub002/internal/logger"
	"github.com/andresfranco/portfolio-suite-sub002/internal/models"
	"github.com/andresfranco/portfolio-suite-sub002/internal/rag"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Executor 队列驱动的索引执行端
type Executor interface {
	IndexRecord(ctx context.Context, table, id string) error
	RetireRecord(ctx context.Context, table, id string) error
}

// DeadLetterStore 重试耗尽后的任务归档
type DeadLetterStore interface {
	Save(ctx context.Context, letter models.RagDeadLetter) error
	List(ctx context.Context, jobType string, n int) ([]models.RagDeadLetter, error)
}

// GormDeadLetterStore 死信表的gorm实现
type GormDeadLetterStore struct {
	db *gorm.DB
}

func NewGormDeadLetterStore(db *gorm.DB) *GormDeadLetterStore {
	return &GormDeadLetterStore{db: db}
}

func (s *GormDeadLetterStore) Save(ctx context.Context, letter models.RagDeadLetter) error {
	if err := s.db.WithContext(ctx).Create(&letter).Error; err != nil {
		return fmt.Errorf("failed to save dead letter: %w", err)
	}
	return nil
}

func (s *GormDeadLetterStore) List(ctx context.Context, jobType string, n int) ([]models.RagDeadLetter, error) {
	if n <= 0 {
		n = 50
	}
	var letters []models.RagDeadLetter
	query := s.db.WithContext(ctx).Order("id")
	if jobType != "" {
		query = query.Where("job_type = ?", jobType)
	}
	if err := query.Limit(n).Find(&letters).Error; err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return letters, nil
}

// Queue 索引任务队列。配置了producer时走Kafka，由消费组worker
// 异步执行；否则在调用方进程内同步执行（内联模式）。
type Queue struct {
	producer    sarama.SyncProducer
	topic       string
	executor    Executor
	deadLetters DeadLetterStore
	maxRetries  int
	backoffBase time.Duration

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewQueue 创建队列，producer为nil时进入内联模式
func NewQueue(producer sarama.SyncProducer, topic string, executor Executor, deadLetters DeadLetterStore, maxRetries int, backoffBase time.Duration) *Queue {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Queue{
		producer:    producer,
		topic:       topic,
		executor:    executor,
		deadLetters: deadLetters,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		inFlight:    make(map[string]bool),
	}
}

// NewSyncProducer 创建Kafka同步生产者
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return producer, nil
}

// Enqueue 提交一次变更。内联模式下同步执行并返回最终结果；
// Kafka模式下只保证投递成功。
func (q *Queue) Enqueue(ctx context.Context, event ChangeEvent) error {
	if q.producer != nil {
		return q.publish(event)
	}
	return q.runInline(ctx, event)
}

func (q *Queue) publish(event ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: q.topic,
		Key:   sarama.StringEncoder(event.Key()),
		Value: sarama.ByteEncoder(data),
	}
	partition, offset, err := q.producer.SendMessage(msg)
	if err != nil {
		jobsTotal.WithLabelValues(string(event.JobType()), "publish_error").Inc()
		return fmt.Errorf("failed to publish change event: %w", err)
	}

	jobsTotal.WithLabelValues(string(event.JobType()), "published").Inc()
	logger.Debug("change event published",
		zap.String("key", event.Key()),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (q *Queue) runInline(ctx context.Context, event ChangeEvent) error {
	jobType := event.JobType()
	key := string(jobType) + "|" + event.Key()

	q.mu.Lock()
	if q.inFlight[key] {
		q.mu.Unlock()
		inflightDropsTotal.Inc()
		logger.Debug("duplicate job dropped, key already in flight", zap.String("key", key))
		return nil
	}
	q.inFlight[key] = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.inFlight, key)
		q.mu.Unlock()
	}()

	start := time.Now()
	err := q.executeWithRetry(ctx, event)
	jobDuration.WithLabelValues(string(jobType)).Observe(time.Since(start).Seconds())

	if err != nil {
		jobsTotal.WithLabelValues(string(jobType), "error").Inc()
		return err
	}
	jobsTotal.WithLabelValues(string(jobType), "success").Inc()
	return nil
}

// executeWithRetry 有界线性退避重试。永久性错误不重试，
// 直接写死信。重试耗尽后写死信并把原始错误返回给调用方。
func (q *Queue) executeWithRetry(ctx context.Context, event ChangeEvent) error {
	jobType := event.JobType()

	var lastErr error
	for attempt := 0; attempt <= q.maxRetries; attempt++ {
		if attempt > 0 {
			jobRetriesTotal.WithLabelValues(string(jobType)).Inc()
			select {
			case <-time.After(time.Duration(attempt) * q.backoffBase):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = q.execute(ctx, event)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, rag.ErrUnknownTable) {
			// 永久性错误，重试不会变好
			q.saveDeadLetter(ctx, event, lastErr, attempt)
			return lastErr
		}
		logger.Warn("job attempt failed",
			zap.String("key", event.Key()),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}

	q.saveDeadLetter(ctx, event, lastErr, q.maxRetries)
	return lastErr
}

func (q *Queue) execute(ctx context.Context, event ChangeEvent) error {
	if event.JobType() == JobRetire {
		return q.executor.RetireRecord(ctx, event.SourceTable, event.SourceID)
	}
	return q.executor.IndexRecord(ctx, event.SourceTable, event.SourceID)
}

func newDeadLetter(event ChangeEvent, payload string, cause error, retries int) models.RagDeadLetter {
	letter := models.RagDeadLetter{
		JobType:     string(event.JobType()),
		SourceTable: event.SourceTable,
		SourceID:    event.SourceID,
		Payload:     payload,
		Retries:     retries,
		CreatedAt:   time.Now(),
	}
	if cause != nil {
		letter.Error = cause.Error()
	}
	return letter
}

func (q *Queue) saveDeadLetter(ctx context.Context, event ChangeEvent, cause error, retries int) {
	if q.deadLetters == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("failed to encode dead letter payload", zap.Error(err))
		return
	}

	letter := newDeadLetter(event, string(payload), cause, retries)

	if err := q.deadLetters.Save(ctx, letter); err != nil {
		logger.Error("failed to persist dead letter",
			zap.String("key", event.Key()),
			zap.Error(err))
		return
	}

	deadLettersTotal.WithLabelValues(string(event.JobType())).Inc()
	logger.Warn("job dead-lettered",
		zap.String("key", event.Key()),
		zap.Int("retries", retries),
		zap.Error(cause))
}

// ListDeadLetters 查看死信
func (q *Queue) ListDeadLetters(ctx context.Context, jobType string, n int) ([]models.RagDeadLetter, error) {
	if q.deadLetters == nil {
		return nil, nil
	}
	return q.deadLetters.List(ctx, jobType, n)
}

// RetryDeadLetters 重放最多n条死信。再次失败的行不删除，
// 会产生新的死信记录。返回重新提交成功的条数。
func (q *Queue) RetryDeadLetters(ctx context.Context, jobType string, n int) (int, error) {
	if q.deadLetters == nil {
		return 0, nil
	}

	letters, err := q.deadLetters.List(ctx, jobType, n)
	if err != nil {
		return 0, err
	}

	retried := 0
	for _, letter := range letters {
		var event ChangeEvent
		if err := json.Unmarshal([]byte(letter.Payload), &event); err != nil {
			logger.Error("failed to decode dead letter payload",
				zap.Uint("dead_letter_id", letter.ID),
				zap.Error(err))
			continue
		}
		if err := q.Enqueue(ctx, event); err != nil {
			logger.Warn("dead letter retry failed",
				zap.Uint("dead_letter_id", letter.ID),
				zap.Error(err))
			continue
		}
		retried++
	}

	logger.Info("dead letters retried",
		zap.String("job_type", jobType),
		zap.Int("requested", len(letters)),
		zap.Int("succeeded", retried))
	return retried, nil
}
