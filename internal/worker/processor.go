package worker

import (
	"context"
	"errors"
	"time"

	"geminichat/internal/ai"
	"geminichat/internal/metrics"
	"geminichat/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Processor 在 HTTP 响应之外异步处理消息：调用 AI 并把结果写回消息行。
// 入队只传消息 ID，处理结果不回传给原始请求。
type Processor struct {
	db        *gorm.DB
	responder ai.Responder

	queue chan uint
	done  chan struct{}

	// 每条消息最多尝试 maxAttempts 次，失败后按 backoff 翻倍退避。
	maxAttempts int
	backoff     time.Duration
	callTimeout time.Duration
}

func NewProcessor(gdb *gorm.DB, responder ai.Responder, queueSize int, callTimeout time.Duration) *Processor {
	if queueSize <= 0 {
		queueSize = 64
	}
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Processor{
		db:          gdb,
		responder:   responder,
		queue:       make(chan uint, queueSize),
		done:        make(chan struct{}),
		maxAttempts: 3,
		backoff:     time.Second,
		callTimeout: callTimeout,
	}
}

// Start 启动后台 worker goroutine，消息不保证处理顺序。
func (p *Processor) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		for {
			select {
			case <-ctx.Done():
				return
			case id := <-p.queue:
				if err := p.Process(ctx, id); err != nil {
					log.Error().Err(err).Uint("message_id", id).Msg("process message")
				}
			}
		}
	}()
}

// Wait 阻塞到 worker 退出，用于优雅停服。
func (p *Processor) Wait() {
	<-p.done
}

// Enqueue 把消息交给 worker，队列满时丢弃并记日志，不阻塞请求路径。
func (p *Processor) Enqueue(messageID uint) {
	select {
	case p.queue <- messageID:
	default:
		log.Warn().Uint("message_id", messageID).Msg("worker queue full, message dropped")
	}
}

// Process 对单条消息执行 pending → processing → completed/failed。
// 已经处于终态的消息直接跳过，重复入队是安全的。
func (p *Processor) Process(ctx context.Context, messageID uint) error {
	var msg models.Message
	if err := p.db.First(&msg, messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if msg.ProcessingStatus == models.MessageCompleted || msg.ProcessingStatus == models.MessageFailed {
		return nil
	}

	if err := p.setStatus(messageID, models.MessageProcessing); err != nil {
		return err
	}

	reply, err := p.generateWithRetry(ctx, msg.Content)
	if err != nil {
		log.Warn().Err(err).Uint("message_id", messageID).Msg("ai reply failed")
		metrics.MessagesProcessedTotal.WithLabelValues(models.MessageFailed).Inc()
		return p.setStatus(messageID, models.MessageFailed)
	}

	if err := p.db.Model(&models.Message{}).Where("id = ?", messageID).Updates(map[string]any{
		"ai_response":       reply,
		"processing_status": models.MessageCompleted,
	}).Error; err != nil {
		return err
	}
	metrics.MessagesProcessedTotal.WithLabelValues(models.MessageCompleted).Inc()
	return nil
}

func (p *Processor) generateWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	delay := p.backoff
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		reply, err := p.responder.GenerateReply(callCtx, prompt)
		cancel()
		if err == nil && reply != "" {
			return reply, nil
		}
		if err == nil {
			err = ai.ErrEmptyResponse
		}
		metrics.AIRequestFailuresTotal.Inc()
		lastErr = err
		if attempt == p.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return "", lastErr
}

func (p *Processor) setStatus(messageID uint, status string) error {
	return p.db.Model(&models.Message{}).Where("id = ?", messageID).
		Update("processing_status", status).Error
}
