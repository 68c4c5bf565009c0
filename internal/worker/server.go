package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"payment-core/internal/event"
	"payment-core/internal/service/mq"
	"payment-core/internal/worker/tasks"
	"payment-core/pkg/logger"
)

// Server 消费重发请求 topic 的后台 worker
type Server struct {
	consumer mq.Consumer
	resender tasks.Resender

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(consumer mq.Consumer, resender tasks.Resender) *Server {
	return &Server{consumer: consumer, resender: resender}
}

// Run 阻塞消费直到 ctx 结束
func (s *Server) Run(ctx context.Context) error {
	logger.Info("retry worker starting", zap.String("topic", event.RetryTopic))
	return s.consumer.Subscribe(ctx, event.RetryTopic, func(msg *mq.Message) error {
		err := tasks.HandleResend(ctx, s.resender, msg)
		if errors.Is(err, tasks.ErrSkip) {
			logger.Error("drop malformed retry message", zap.String("id", msg.ID), zap.Error(err))
			return nil
		}
		return err
	})
}

// Start 非阻塞启动 (用于集成到 main.go)
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("retry worker stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop 停止 Worker
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	_ = s.consumer.Close()
}
