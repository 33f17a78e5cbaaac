package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/common"
)

// Topic Constants
const (
	TopicRecordsImported   = "clinical.records.imported"
	TopicLabsCommitted     = "clinical.labs.committed"
	TopicPatternsDetected  = "clinical.patterns.detected"
	TopicImportFailed      = "clinical.imports.failed"
	TopicDeadLetterDefault = "dead_letter.default"
	TopicDeadLetterLabs    = "dead_letter.labs"
)

// Event types carried in EventEnvelope.EventType.
const (
	EventRecordsImported  = "records.imported"
	EventLabsCommitted    = "labs.committed"
	EventPatternsDetected = "patterns.detected"
	EventImportFailed     = "import.failed"
)

const schemaVersion = "v1"

// EventEnvelope standardizes event messages.
type EventEnvelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion string            `json:"schema_version"`
	TraceID       string            `json:"trace_id,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// RecordsImportedPayload announces a completed import session.  Counts are
// keyed by record kind.
type RecordsImportedPayload struct {
	SessionID    string            `json:"session_id"`
	DocumentType string            `json:"document_type"`
	Imported     map[string]int    `json:"imported"`
	Skipped      map[string]int    `json:"skipped"`
	RecordIDs    map[string]string `json:"record_ids"`
	Confidence   float64           `json:"confidence"`
	CompletedAt  time.Time         `json:"completed_at"`
}

// CommittedLab is one lab written by an import.
type CommittedLab struct {
	RecordID    string    `json:"record_id"`
	TestName    string    `json:"test_name"`
	Value       string    `json:"value"`
	Unit        string    `json:"unit,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

// LabsCommittedPayload lists the labs of one session; the pattern worker
// consumes it.
type LabsCommittedPayload struct {
	SessionID   string         `json:"session_id"`
	Labs        []CommittedLab `json:"labs"`
	CommittedAt time.Time      `json:"committed_at"`
}

// DetectedPattern is one pattern match in a PatternsDetectedPayload.
type DetectedPattern struct {
	PatternID  string   `json:"pattern_id"`
	Name       string   `json:"name"`
	Category   string   `json:"category"`
	Urgency    string   `json:"urgency"`
	Confidence float64  `json:"confidence"`
	Matched    []string `json:"matched"`
}

// PatternsDetectedPayload reports the patterns found in a set of labs.
type PatternsDetectedPayload struct {
	SessionID  string            `json:"session_id,omitempty"`
	Patterns   []DetectedPattern `json:"patterns"`
	LabCount   int               `json:"lab_count"`
	DetectedAt time.Time         `json:"detected_at"`
}

// ImportFailedPayload announces a session that ended in error.
type ImportFailedPayload struct {
	SessionID string    `json:"session_id"`
	Error     string    `json:"error"`
	ErrorCode string    `json:"error_code,omitempty"`
	Imported  int       `json:"imported"`
	FailedAt  time.Time `json:"failed_at"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Envelope helpers
// ─────────────────────────────────────────────────────────────────────────────

// NewEventEnvelope marshals payload into a fresh envelope.
func NewEventEnvelope(eventType string, source string, payload interface{}) (*EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal payload")
	}
	return &EventEnvelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: schemaVersion,
		Payload:       data,
	}, nil
}

// DecodePayload unmarshals the payload into target.  An absent payload is an
// error.
func (e *EventEnvelope) DecodePayload(target interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return errors.New(errors.ErrCodeValidation, "event has no payload").WithDetail(e.EventType)
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal payload")
	}
	return nil
}

// ToMessage wraps the envelope for topic.
func (e *EventEnvelope) ToMessage(topic string) (*common.ProducerMessage, error) {
	val, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal envelope")
	}
	headers := map[string]string{
		"event_type":     e.EventType,
		"source_service": e.Source,
		"schema_version": e.SchemaVersion,
	}
	if e.TraceID != "" {
		headers["trace_id"] = e.TraceID
	}
	return &common.ProducerMessage{
		Topic:     topic,
		Value:     val,
		Headers:   headers,
		Timestamp: e.Timestamp,
	}, nil
}

// DecodeEnvelope parses a message value.
func DecodeEnvelope(value []byte) (*EventEnvelope, error) {
	if len(value) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "empty message value")
	}
	var env EventEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal envelope")
	}
	if env.EventType == "" {
		return nil, errors.New(errors.ErrCodeValidation, "envelope has no event type")
	}
	return &env, nil
}

// MessageToEventEnvelope parses an inbound message.
func MessageToEventEnvelope(msg *common.Message) (*EventEnvelope, error) {
	if msg == nil {
		return nil, errors.New(errors.ErrCodeValidation, "nil message")
	}
	return DecodeEnvelope(msg.Value)
}

// ─────────────────────────────────────────────────────────────────────────────
// Topic management
// ─────────────────────────────────────────────────────────────────────────────

// TopicConfig describes a topic to create.
type TopicConfig struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	RetentionMs       int64
	CleanupPolicy     string
	Configs           map[string]string
}

// ConnInterface abstracts kafka.Conn for testing.
type ConnInterface interface {
	CreateTopics(topics ...kafka.TopicConfig) error
	DeleteTopics(topics ...string) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// TopicManager creates the clinical topics at startup.
type TopicManager struct {
	conn   ConnInterface
	logger logging.Logger
}

// NewTopicManager dials the first broker.
func NewTopicManager(brokers []string, logger logging.Logger) (*TopicManager, error) {
	if len(brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "brokers required")
	}
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMessageQueueError, "failed to dial kafka")
	}
	return &TopicManager{conn: conn, logger: logging.OrNop(logger)}, nil
}

// CreateTopic creates cfg unless it already exists.
func (m *TopicManager) CreateTopic(ctx context.Context, cfg TopicConfig) error {
	if cfg.Name == "" {
		return errors.New(errors.ErrCodeValidation, "topic name required")
	}
	if cfg.NumPartitions <= 0 {
		return errors.New(errors.ErrCodeValidation, "NumPartitions must be > 0")
	}
	if cfg.ReplicationFactor <= 0 {
		return errors.New(errors.ErrCodeValidation, "ReplicationFactor must be > 0")
	}

	kCfg := kafka.TopicConfig{
		Topic:             cfg.Name,
		NumPartitions:     cfg.NumPartitions,
		ReplicationFactor: cfg.ReplicationFactor,
		ConfigEntries:     make([]kafka.ConfigEntry, 0, len(cfg.Configs)+2),
	}
	if cfg.RetentionMs > 0 {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: "retention.ms", ConfigValue: strconv.FormatInt(cfg.RetentionMs, 10)})
	}
	if cfg.CleanupPolicy != "" {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: "cleanup.policy", ConfigValue: cfg.CleanupPolicy})
	}
	for k, v := range cfg.Configs {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: k, ConfigValue: v})
	}

	if err := m.conn.CreateTopics(kCfg); err != nil {
		if exists, _ := m.TopicExists(ctx, cfg.Name); exists {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeMessageQueueError, "create topic "+cfg.Name)
	}
	m.logger.Info("Topic created", logging.String("topic", cfg.Name))
	return nil
}

// TopicExists reports whether name has partitions.
func (m *TopicManager) TopicExists(_ context.Context, name string) (bool, error) {
	partitions, err := m.conn.ReadPartitions(name)
	if err != nil {
		return false, nil
	}
	return len(partitions) > 0, nil
}

// EnsureTopics creates every topic in topics.
func (m *TopicManager) EnsureTopics(ctx context.Context, topics []TopicConfig) error {
	for _, topic := range topics {
		if err := m.CreateTopic(ctx, topic); err != nil {
			return err
		}
	}
	return nil
}

// EnsureDefaultTopics creates DefaultTopics.
func (m *TopicManager) EnsureDefaultTopics(ctx context.Context) error {
	return m.EnsureTopics(ctx, DefaultTopics())
}

func (m *TopicManager) Close() error {
	return m.conn.Close()
}

const day = int64(24 * 3600 * 1000)

// DefaultTopics lists the clinical topics.  Partition counts assume session
// ids as keys.
func DefaultTopics() []TopicConfig {
	return []TopicConfig{
		{Name: TopicRecordsImported, NumPartitions: 6, ReplicationFactor: 3, RetentionMs: 30 * day},
		{Name: TopicLabsCommitted, NumPartitions: 6, ReplicationFactor: 3, RetentionMs: 7 * day},
		{Name: TopicPatternsDetected, NumPartitions: 3, ReplicationFactor: 3, RetentionMs: 90 * day},
		{Name: TopicImportFailed, NumPartitions: 3, ReplicationFactor: 3, RetentionMs: 30 * day},
		{Name: TopicDeadLetterDefault, NumPartitions: 3, ReplicationFactor: 3, RetentionMs: 30 * day},
		{Name: TopicDeadLetterLabs, NumPartitions: 3, ReplicationFactor: 3, RetentionMs: 30 * day},
	}
}

//Personal.AI order the ending
