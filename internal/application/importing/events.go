package importing

import (
	"context"
	"time"

	kafkainfra "github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/common"
)

// EventPublisher announces finished sessions.
type EventPublisher interface {
	// PublishImportCompleted is called once a session reaches StateComplete.
	PublishImportCompleted(ctx context.Context, status *Status) error
	// PublishImportFailed is called once a session reaches StateError.
	PublishImportFailed(ctx context.Context, status *Status) error
}

// MessageProducer is the slice of the Kafka producer used here.
type MessageProducer interface {
	Publish(ctx context.Context, msg *common.ProducerMessage) error
}

// KafkaEventPublisher publishes import events as Kafka envelopes keyed by
// session id.
type KafkaEventPublisher struct {
	producer MessageProducer
	source   string
	now      func() time.Time
	logger   logging.Logger
}

// NewKafkaEventPublisher creates a publisher.  source names the emitting
// service in every envelope.
func NewKafkaEventPublisher(producer MessageProducer, source string, logger logging.Logger) *KafkaEventPublisher {
	return &KafkaEventPublisher{
		producer: producer,
		source:   source,
		now:      time.Now,
		logger:   logging.OrNop(logger).Named("import-events"),
	}
}

// PublishImportCompleted emits records.imported and, when labs were written,
// labs.committed.
func (p *KafkaEventPublisher) PublishImportCompleted(ctx context.Context, st *Status) error {
	if st == nil || st.Summary == nil {
		return errors.New(errors.ErrCodeValidation, "completed session has no summary")
	}
	at := p.now().UTC()
	payload := &kafkainfra.RecordsImportedPayload{
		SessionID:    st.SessionID,
		DocumentType: string(st.DocumentType),
		Imported:     kindMap(st.Summary.Imported),
		Skipped:      kindMap(st.Summary.Skipped),
		RecordIDs:    st.Summary.RecordIDs,
		CompletedAt:  at,
	}
	if st.Extraction != nil {
		payload.Confidence = st.Extraction.Confidence
	}
	if err := p.publish(ctx, kafkainfra.TopicRecordsImported, kafkainfra.EventRecordsImported, st.SessionID, payload); err != nil {
		return err
	}

	labs := committedLabs(st)
	if len(labs) == 0 {
		return nil
	}
	return p.publish(ctx, kafkainfra.TopicLabsCommitted, kafkainfra.EventLabsCommitted, st.SessionID,
		&kafkainfra.LabsCommittedPayload{SessionID: st.SessionID, Labs: labs, CommittedAt: at})
}

// PublishImportFailed emits import.failed.
func (p *KafkaEventPublisher) PublishImportFailed(ctx context.Context, st *Status) error {
	if st == nil {
		return errors.New(errors.ErrCodeValidation, "failed session is nil")
	}
	payload := &kafkainfra.ImportFailedPayload{
		SessionID: st.SessionID,
		Error:     st.Error,
		ErrorCode: st.ErrorCode,
		FailedAt:  p.now().UTC(),
	}
	if st.Summary != nil {
		payload.Imported = st.Summary.ImportedTotal()
	}
	return p.publish(ctx, kafkainfra.TopicImportFailed, kafkainfra.EventImportFailed, st.SessionID, payload)
}

func (p *KafkaEventPublisher) publish(ctx context.Context, topic, eventType, key string, payload interface{}) error {
	env, err := kafkainfra.NewEventEnvelope(eventType, p.source, payload)
	if err != nil {
		return err
	}
	msg, err := env.ToMessage(topic)
	if err != nil {
		return err
	}
	msg.Key = []byte(key)
	if err := p.producer.Publish(ctx, msg); err != nil {
		return errors.Wrap(err, errors.ErrCodeMessageQueueError, "publish "+eventType)
	}
	p.logger.Debug("event published", logging.String("topic", topic), logging.String("session_id", key))
	return nil
}

func kindMap(k KindCount) map[string]int {
	out := make(map[string]int, len(k))
	for kind, n := range k {
		out[string(kind)] = n
	}
	return out
}

// committedLabs lists the lab records written by the session.
func committedLabs(st *Status) []kafkainfra.CommittedLab {
	var out []kafkainfra.CommittedLab
	for _, c := range st.Duplicates {
		id, ok := st.Summary.RecordIDs[c.Key]
		if !ok || c.Kind != clinical.KindLab || c.Record.Lab == nil {
			continue
		}
		out = append(out, kafkainfra.CommittedLab{
			RecordID:    id,
			TestName:    c.Record.Lab.TestName,
			Value:       c.Record.Lab.Value.String(),
			Unit:        c.Record.Lab.Unit,
			CollectedAt: c.Record.Lab.CollectedAt,
		})
	}
	return out
}

type noopPublisher struct{}

func (noopPublisher) PublishImportCompleted(context.Context, *Status) error { return nil }
func (noopPublisher) PublishImportFailed(context.Context, *Status) error    { return nil }

//Personal.AI order the ending
