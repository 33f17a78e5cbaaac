package analysis

import (
	"context"
	"time"

	kafkainfra "github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/common"
)

// Producer is the subset of the Kafka producer used here.
type Producer interface {
	Publish(ctx context.Context, msg *common.ProducerMessage) error
}

// Publisher announces detected patterns.
type Publisher interface {
	PublishPatternsDetected(ctx context.Context, a *Analysis) error
}

// KafkaPublisher writes PatternsDetected envelopes.
type KafkaPublisher struct {
	producer Producer
	source   string
	logger   logging.Logger
}

// NewKafkaPublisher builds a publisher tagging events with source.
func NewKafkaPublisher(producer Producer, source string, logger logging.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, source: source, logger: logging.OrNop(logger)}
}

// PublishPatternsDetected publishes a's matches keyed by its session.
func (p *KafkaPublisher) PublishPatternsDetected(ctx context.Context, a *Analysis) error {
	payload := kafkainfra.PatternsDetectedPayload{
		SessionID:  a.SessionID,
		Patterns:   make([]kafkainfra.DetectedPattern, 0, len(a.Matches)),
		LabCount:   a.LabCount,
		DetectedAt: a.AnalyzedAt,
	}
	for _, m := range a.Matches {
		payload.Patterns = append(payload.Patterns, kafkainfra.DetectedPattern{
			PatternID:  m.Pattern.ID,
			Name:       m.Pattern.Name,
			Category:   m.Pattern.Category,
			Urgency:    string(m.Pattern.Severity),
			Confidence: m.Confidence,
			Matched:    m.MatchedFindings,
		})
	}
	env, err := kafkainfra.NewEventEnvelope(kafkainfra.EventPatternsDetected, p.source, payload)
	if err != nil {
		return err
	}
	msg, err := env.ToMessage(kafkainfra.TopicPatternsDetected)
	if err != nil {
		return err
	}
	msg.Key = []byte(a.SessionID)
	if err := p.producer.Publish(ctx, msg); err != nil {
		return errors.Wrap(err, errors.ErrCodeMessageQueueError, "publish patterns detected")
	}
	return nil
}

// LabsCommittedHandler reanalyses the store whenever an import commits labs
// and publishes any matches.  Envelopes of other types are ignored.
func LabsCommittedHandler(svc *Service, pub Publisher, logger logging.Logger) common.MessageHandler {
	logger = logging.OrNop(logger).Named("labs-committed")
	return func(ctx context.Context, msg *common.Message) error {
		env, err := kafkainfra.MessageToEventEnvelope(msg)
		if err != nil {
			return err
		}
		if env.EventType != kafkainfra.EventLabsCommitted {
			logger.Debug("ignoring event", logging.String("event_type", env.EventType))
			return nil
		}
		var payload kafkainfra.LabsCommittedPayload
		if err := env.DecodePayload(&payload); err != nil {
			return err
		}
		if len(payload.Labs) == 0 {
			return nil
		}
		start := time.Now()
		a, err := svc.AnalyzeStoredLabs(ctx, payload.SessionID)
		if err != nil {
			return err
		}
		logger.Info("labs reanalysed",
			logging.String("session_id", payload.SessionID),
			logging.Int("matches", len(a.Matches)),
			logging.Duration("elapsed", time.Since(start)))
		if len(a.Matches) == 0 || pub == nil {
			return nil
		}
		return pub.PublishPatternsDetected(ctx, a)
	}
}

//Personal.AI order the ending
