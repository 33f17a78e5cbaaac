package importing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/KeyMed-Intelligence/internal/domain/record"
	kafkainfra "github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/KeyMed-Intelligence/internal/testutil"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/common"
)

type capturingProducer struct {
	mu   sync.Mutex
	msgs []*common.ProducerMessage
}

func (p *capturingProducer) Publish(_ context.Context, msg *common.ProducerMessage) error {
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
	return nil
}

func (p *capturingProducer) Messages() []*common.ProducerMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*common.ProducerMessage(nil), p.msgs...)
}

type fakeArchive struct {
	texts map[string]string
	err   error
}

func (a *fakeArchive) Archive(_ context.Context, sessionID, text string, _ time.Time) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.texts[sessionID] = text
	return "documents/2024/06/" + sessionID + ".txt", nil
}

type ServiceSuite struct {
	suite.Suite
	store     *record.MemoryStore
	sessions  *MemorySessionStore
	locker    *MemoryLocker
	producer  *capturingProducer
	archive   *fakeArchive
	extractor *scriptedExtractor
	svc       *Service
}

func (s *ServiceSuite) SetupTest() {
	s.store = record.NewMemoryStore()
	s.sessions = NewMemorySessionStore(time.Hour)
	s.locker = NewMemoryLocker()
	s.producer = &capturingProducer{}
	s.archive = &fakeArchive{texts: map[string]string{}}
	s.extractor = &scriptedExtractor{ext: sampleExtraction()}
	s.svc = s.newService(s.extractor)
}

func (s *ServiceSuite) TearDownTest() {
	s.svc.Close()
}

func (s *ServiceSuite) newService(ext Extractor) *Service {
	svc, err := NewService(Deps{
		Pipeline: newPipeline(ext, s.store, nil),
		Sessions: s.sessions,
		Locker:   s.locker,
		Archive:  s.archive,
		Events:   NewKafkaEventPublisher(s.producer, "keymed-test", nil),
	}, ServiceConfig{ParseTimeout: time.Second}, nil)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) submitAndWait(text string) string {
	id, err := s.svc.SubmitDocument(context.Background(), text)
	s.Require().NoError(err)
	s.Require().NotEmpty(id)
	s.svc.Wait()
	return id
}

func (s *ServiceSuite) TestSubmitConfirmComplete() {
	ctx := context.Background()
	id := s.submitAndWait(testutil.SampleLabReport)

	st, err := s.svc.GetStatus(ctx, id)
	s.Require().NoError(err)
	s.Equal(StateReviewing, st.State)
	s.Equal(clinical.DocumentLabReport, st.DocumentType)
	s.Equal("documents/2024/06/"+id+".txt", st.ArchiveKey)
	s.Equal(testutil.SampleLabReport, s.archive.texts[id])
	s.Equal(3, st.Extraction.RecordCount())

	summary, err := s.svc.ConfirmImport(ctx, id, nil)
	s.Require().NoError(err)
	s.True(summary.Complete)
	s.Equal(3, summary.ImportedTotal())

	st, err = s.svc.GetStatus(ctx, id)
	s.Require().NoError(err, "finished sessions are answered from the session store")
	s.Equal(StateComplete, st.State)
	s.Equal(ProgressComplete, st.Progress)

	history, err := s.svc.History(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal(id, history[0].SessionID)
	s.Equal(3, history[0].Imported)
	s.Equal(3, history[0].Total)
	s.InDelta(0.9, history[0].Confidence, 1e-9)

	msgs := s.producer.Messages()
	s.Require().Len(msgs, 2)
	s.Equal(kafkainfra.TopicRecordsImported, msgs[0].Topic)
	s.Equal(kafkainfra.TopicLabsCommitted, msgs[1].Topic)
	s.Equal(id, string(msgs[0].Key))

	env, err := kafkainfra.DecodeEnvelope(msgs[0].Value)
	s.Require().NoError(err)
	s.Equal(kafkainfra.EventRecordsImported, env.EventType)
	s.Equal("keymed-test", env.Source)
	var payload kafkainfra.RecordsImportedPayload
	s.Require().NoError(env.DecodePayload(&payload))
	s.Equal(id, payload.SessionID)
	s.Equal(map[string]int{"lab": 2, "medication": 1}, payload.Imported)
	s.Len(payload.RecordIDs, 3)

	labsEnv, err := kafkainfra.DecodeEnvelope(msgs[1].Value)
	s.Require().NoError(err)
	var labs kafkainfra.LabsCommittedPayload
	s.Require().NoError(labsEnv.DecodePayload(&labs))
	s.Require().Len(labs.Labs, 2)
	s.Equal("Sodium", labs.Labs[0].TestName)
	s.Equal(payload.RecordIDs["lab:0"], labs.Labs[0].RecordID)
}

func (s *ServiceSuite) TestConfirmTwiceIsRejected() {
	ctx := context.Background()
	id := s.submitAndWait(testutil.SampleLabReport)
	_, err := s.svc.ConfirmImport(ctx, id, nil)
	s.Require().NoError(err)

	_, err = s.svc.ConfirmImport(ctx, id, nil)
	s.True(errors.IsCode(err, errors.ErrCodeSessionNotConfirmable))
	s.Equal(3, s.store.Len(clinical.KindLab)+s.store.Len(clinical.KindMedication))
}

func (s *ServiceSuite) TestReviewDecisionsAcrossCalls() {
	ctx := context.Background()
	_, err := s.store.Append(ctx, clinical.KindLab, sodium(128, jan15.AddDate(0, 0, 3)))
	s.Require().NoError(err)
	id := s.submitAndWait(testutil.SampleLabReport)

	_, err = s.svc.ConfirmImport(ctx, id, nil)
	s.True(errors.IsCode(err, errors.ErrCodeDecisionRequired))
	st, err := s.svc.GetStatus(ctx, id)
	s.Require().NoError(err)
	s.Equal(StateCheckingDuplicates, st.State)
	s.Equal([]string{"lab:0"}, st.PendingReview)

	summary, err := s.svc.ConfirmImport(ctx, id, Decisions{"lab:0": DecisionImport})
	s.Require().NoError(err)
	s.Equal(3, summary.ImportedTotal())
	s.Equal(3, s.store.Len(clinical.KindLab))
}

func (s *ServiceSuite) TestEmptyDocumentEndsInError() {
	ctx := context.Background()
	id := s.submitAndWait("   ")

	st, err := s.svc.GetStatus(ctx, id)
	s.Require().NoError(err)
	s.Equal(StateError, st.State)
	s.Equal(MsgNoText, st.Error)
	s.Zero(s.extractor.Calls())
	s.Empty(s.archive.texts, "blank documents are not archived")

	_, err = s.svc.ConfirmImport(ctx, id, nil)
	s.True(errors.IsCode(err, errors.ErrCodeSessionNotConfirmable))

	msgs := s.producer.Messages()
	s.Require().Len(msgs, 1)
	s.Equal(kafkainfra.TopicImportFailed, msgs[0].Topic)
	env, err := kafkainfra.DecodeEnvelope(msgs[0].Value)
	s.Require().NoError(err)
	var failed kafkainfra.ImportFailedPayload
	s.Require().NoError(env.DecodePayload(&failed))
	s.Equal(MsgNoText, failed.Error)
	s.Equal(errors.ErrCodeDocumentEmpty.String(), failed.ErrorCode)
}

func (s *ServiceSuite) TestConfirmWhileParsing() {
	blocking := s.newService(&scriptedExtractor{block: true})
	id, err := blocking.SubmitDocument(context.Background(), testutil.SampleLabReport)
	s.Require().NoError(err)

	_, err = blocking.ConfirmImport(context.Background(), id, nil)
	s.True(errors.IsCode(err, errors.ErrCodeSessionNotConfirmable))

	blocking.Close()
	st, err := blocking.GetStatus(context.Background(), id)
	s.Require().NoError(err)
	s.Equal(StateError, st.State)
}

func (s *ServiceSuite) TestConfirmFromAnotherReplica() {
	id := s.submitAndWait(testutil.SampleLabReport)

	other := s.newService(s.extractor)
	defer other.Close()
	summary, err := other.ConfirmImport(context.Background(), id, nil)
	s.Require().NoError(err)
	s.Equal(3, summary.ImportedTotal())
	s.Equal(1, s.extractor.Calls(), "restored sessions are not re-parsed")
}

func (s *ServiceSuite) TestBusySession() {
	id := s.submitAndWait(testutil.SampleLabReport)
	lock, err := s.locker.Acquire(context.Background(), "import:"+id, time.Minute)
	s.Require().NoError(err)

	_, err = s.svc.ConfirmImport(context.Background(), id, nil)
	s.True(errors.IsCode(err, errors.ErrCodeSessionBusy))

	s.Require().NoError(lock.Release(context.Background()))
	_, err = s.svc.ConfirmImport(context.Background(), id, nil)
	s.NoError(err)
}

func (s *ServiceSuite) TestUnknownSession() {
	_, err := s.svc.GetStatus(context.Background(), "missing")
	s.True(errors.IsCode(err, errors.ErrCodeSessionNotFound))
	_, err = s.svc.ConfirmImport(context.Background(), "missing", nil)
	s.True(errors.IsCode(err, errors.ErrCodeSessionNotFound))
}

func (s *ServiceSuite) TestArchiveFailureDoesNotBlockImport() {
	s.archive.err = errors.New(errors.ErrCodeStorageError, "bucket unavailable")
	id := s.submitAndWait(testutil.SampleLabReport)

	st, err := s.svc.GetStatus(context.Background(), id)
	s.Require().NoError(err)
	s.Equal(StateReviewing, st.State)
	s.Empty(st.ArchiveKey)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func TestNewService_RequiresPipeline(t *testing.T) {
	_, err := NewService(Deps{}, ServiceConfig{}, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestMemorySessionStore_Expiry(t *testing.T) {
	now := testutil.Day(2024, time.June, 1)
	store := NewMemorySessionStore(time.Minute)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(context.Background(), &Status{SessionID: "s", State: StateReviewing}))
	st, err := store.Load(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, StateReviewing, st.State)

	now = now.Add(2 * time.Minute)
	_, err = store.Load(context.Background(), "s")
	assert.True(t, errors.IsCode(err, errors.ErrCodeSessionNotFound))
}

func TestMemoryLocker_ReleaseIsTokenScoped(t *testing.T) {
	l := NewMemoryLocker()
	first, err := l.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	require.NoError(t, first.Release(context.Background()))

	second, err := l.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	// A stale handle must not free the new holder's lock.
	require.NoError(t, first.Release(context.Background()))
	_, err = l.Acquire(context.Background(), "k", time.Minute)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSessionBusy))
	require.NoError(t, second.Release(context.Background()))
}

//Personal.AI order the ending
