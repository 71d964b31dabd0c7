package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/andresfranco/portfolio-suite-sub002/internal/logger"
	"go.uber.org/zap"
)

// Worker Kafka消费端。消息处理成功（或已落死信）后才提交位点，
// 崩溃的worker的任务会被重新投递。
type Worker struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	executor    Executor
	deadLetters DeadLetterStore
	maxRetries  int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker 创建消费组worker
func NewWorker(brokers []string, groupID, topic string, executor Executor, deadLetters DeadLetterStore, maxRetries int) (*Worker, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}

	return &Worker{
		consumer:    consumerGroup,
		topics:      []string{topic},
		executor:    executor,
		deadLetters: deadLetters,
		maxRetries:  maxRetries,
	}, nil
}

// Start 启动消费循环
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		handler := &workerHandler{worker: w}
		for {
			select {
			case <-ctx.Done():
				logger.Info("kafka worker stopped")
				return
			default:
				if err := w.consumer.Consume(ctx, w.topics, handler); err != nil {
					logger.Error("kafka consume failed", zap.Error(err))
					time.Sleep(5 * time.Second)
				}
			}
		}
	}()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for err := range w.consumer.Errors() {
			logger.Error("kafka consumer error", zap.Error(err))
		}
	}()

	logger.Info("kafka worker started", zap.Strings("topics", w.topics))
}

// Close 停止worker并关闭消费组
func (w *Worker) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	return w.consumer.Close()
}

type workerHandler struct {
	worker *Worker
}

func (h *workerHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *workerHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 逐条处理。只有处理结束（成功或落入死信）才Mark，
// 避免半途崩溃丢任务。
func (h *workerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			h.worker.handleMessage(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage 有界指数退避重试，耗尽后写死信
func (w *Worker) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	var event ChangeEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		logger.Error("failed to decode change event, skipping message",
			zap.Int64("offset", message.Offset),
			zap.Error(err))
		return
	}

	jobType := event.JobType()
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			jobRetriesTotal.WithLabelValues(string(jobType)).Inc()
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
		}

		if jobType == JobRetire {
			lastErr = w.executor.RetireRecord(ctx, event.SourceTable, event.SourceID)
		} else {
			lastErr = w.executor.IndexRecord(ctx, event.SourceTable, event.SourceID)
		}
		if lastErr == nil {
			break
		}
		logger.Warn("worker job attempt failed",
			zap.String("key", event.Key()),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}

	jobDuration.WithLabelValues(string(jobType)).Observe(time.Since(start).Seconds())

	if lastErr != nil {
		jobsTotal.WithLabelValues(string(jobType), "error").Inc()
		w.deadLetter(ctx, event, lastErr)
		return
	}
	jobsTotal.WithLabelValues(string(jobType), "success").Inc()
}

func (w *Worker) deadLetter(ctx context.Context, event ChangeEvent, cause error) {
	if w.deadLetters == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("failed to encode dead letter payload", zap.Error(err))
		return
	}

	letter := newDeadLetter(event, string(payload), cause, w.maxRetries)
	if err := w.deadLetters.Save(ctx, letter); err != nil {
		logger.Error("failed to persist dead letter", zap.String("key", event.Key()), zap.Error(err))
		return
	}
	deadLettersTotal.WithLabelValues(string(event.JobType())).Inc()
}
