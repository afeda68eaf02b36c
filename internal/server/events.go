package server

import (
	"context"
	"encoding/json"

	"payment-engine/internal/biz"
	"payment-engine/internal/conf"
	"payment-engine/internal/constants"
	"payment-engine/internal/metrics"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/go-kratos/kratos/v2/log"
)

// EventProducerServer publishes charge lifecycle events to RocketMQ. The
// broker being down degrades event delivery, never charge processing.
type EventProducerServer struct {
	p       rocketmq.Producer
	conf    *conf.Data
	log     *log.Helper
	metrics *metrics.PaymentMetrics
	enabled bool
}

// NewEventProducerServer creates a RocketMQ producer server.
func NewEventProducerServer(c *conf.Bootstrap, logger log.Logger) *EventProducerServer {
	helper := log.NewHelper(logger)
	if c.Data == nil || c.Data.Rocketmq == nil || !c.Data.Rocketmq.Enabled {
		return &EventProducerServer{enabled: false, log: helper, metrics: metrics.GetMetrics()}
	}

	p, err := rocketmq.NewProducer(
		producer.WithNsResolver(primitive.NewPassthroughResolver(c.Data.Rocketmq.NameServers)),
		producer.WithGroupName(c.Data.Rocketmq.GroupName),
		producer.WithRetry(int(c.Data.Rocketmq.RetryTimes)),
	)
	if err != nil {
		helper.Errorf("init producer error: %v", err)
		return &EventProducerServer{enabled: false, log: helper, metrics: metrics.GetMetrics()}
	}

	return &EventProducerServer{
		p:       p,
		conf:    c.Data,
		log:     helper,
		metrics: metrics.GetMetrics(),
		enabled: true,
	}
}

// Start starts the producer.
func (s *EventProducerServer) Start(ctx context.Context) error {
	if !s.enabled || s.p == nil {
		s.log.Infof("EventProducerServer is disabled, skipping startup")
		return nil
	}
	if err := s.p.Start(); err != nil {
		s.log.Errorf("Failed to start RocketMQ producer: %v", err)
		// Do not fail application startup on broker unavailability.
		s.enabled = false
		return nil
	}
	s.log.Infof("Starting EventProducerServer, topic: %s", s.conf.Rocketmq.Topic)
	return nil
}

// Stop stops the producer.
func (s *EventProducerServer) Stop(ctx context.Context) error {
	if !s.enabled || s.p == nil {
		return nil
	}
	s.log.Info("Stopping EventProducerServer")
	return s.p.Shutdown()
}

// PublishApproved implements biz.EventPublisher.
func (s *EventProducerServer) PublishApproved(ctx context.Context, event *biz.ChargeApprovedEvent) error {
	if !s.enabled || s.p == nil {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := primitive.NewMessage(s.conf.Rocketmq.Topic, body)
	msg.WithTag(constants.EventTagChargeApproved)
	msg.WithKeys([]string{event.ChargeID})

	if _, err := s.p.SendSync(ctx, msg); err != nil {
		s.metrics.EventPublishTotal.WithLabelValues(constants.EventTagChargeApproved, constants.ResultFailed).Inc()
		return err
	}
	s.metrics.EventPublishTotal.WithLabelValues(constants.EventTagChargeApproved, constants.ResultSuccess).Inc()
	return nil
}
