package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/mailtrack/internal/domain"
	"github.com/kursadbilgin/mailtrack/internal/lock"
	"github.com/kursadbilgin/mailtrack/internal/provider"
	"github.com/kursadbilgin/mailtrack/internal/queue"
	"github.com/kursadbilgin/mailtrack/internal/repository"
)

// memStore is an in-memory repository.Store enforcing the same unique keys
// as the Postgres schema. Transactions are not isolated.
type memStore struct {
	mu         sync.Mutex
	seq        int
	messages   map[string]domain.Message
	emails     map[string]domain.Email
	bounces    map[string]domain.Bounce
	deliveries map[string]domain.Delivery

	emailLookupErr error
	markResentErr  error
}

var _ repository.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		messages:   map[string]domain.Message{},
		emails:     map[string]domain.Email{},
		bounces:    map[string]domain.Bounce{},
		deliveries: map[string]domain.Delivery{},
	}
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *memStore) Messages() repository.MessageRepository { return memMessages{s} }
func (s *memStore) Emails() repository.EmailRepository { return memEmails{s} }
func (s *memStore) Bounces() repository.BounceRepository { return memBounces{s} }
func (s *memStore) Deliveries() repository.DeliveryRepository { return memDeliveries{s} }

func (s *memStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return fn(s)
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *memStore) emailCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.emails)
}

func (s *memStore) bounceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bounces)
}

func (s *memStore) deliveryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deliveries)
}

func (s *memStore) emailBySendID(sendID string) (domain.Email, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.emails {
		if e.SendID == sendID {
			return e, true
		}
	}
	return domain.Email{}, false
}

func (s *memStore) bounceByBounceID(bounceID int64) (domain.Bounce, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bounces {
		if b.BounceID == bounceID {
			return b, true
		}
	}
	return domain.Bounce{}, false
}

// seedSent stores a Message plus one submitted Email for it.
func (s *memStore) seedSent(msg domain.OutboundMessage, providerMessageID string, createdAt time.Time) (domain.Message, domain.Email) {
	s.mu.Lock()
	defer s.mu.Unlock()

	message := domain.Message{
		ID:             s.nextID("msg"),
		CorrelationKey: msg.MessageID,
		Content:        domain.NewContent(msg),
		Subject:        msg.Subject,
		FromEmail:      msg.From,
		ToEmails:       domain.JoinAddresses(msg.To),
		CreatedAt:      createdAt,
	}
	s.messages[message.ID] = message

	pmid := providerMessageID
	email := domain.Email{
		ID:                s.nextID("email"),
		MessageID:         message.ID,
		SendID:            msg.MessageID,
		Date:              msg.Date,
		ProviderMessageID: &pmid,
		CreatedAt:         createdAt,
	}
	s.emails[email.ID] = email
	return message, email
}

func (s *memStore) seedBounce(b domain.Bounce) domain.Bounce {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = s.nextID("bounce")
	s.bounces[b.ID] = b
	return b
}

func (s *memStore) seedDelivery(d domain.Delivery) domain.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = s.nextID("delivery")
	s.deliveries[d.ID] = d
	return d
}

type memMessages struct{ s *memStore }

func (r memMessages) GetOrCreate(ctx context.Context, m *domain.Message) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.messages {
		if existing.CorrelationKey == m.CorrelationKey {
			*m = existing
			return false, nil
		}
	}
	m.ID = r.s.nextID("msg")
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	r.s.messages[m.ID] = *m
	return true, nil
}

func (r memMessages) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &m, nil
}

func (r memMessages) GetByCorrelationKey(ctx context.Context, key string) (*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.messages {
		if m.CorrelationKey == key {
			return &m, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r memMessages) GetByIDs(ctx context.Context, ids []string) ([]domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []domain.Message{}
	for _, id := range ids {
		if m, ok := r.s.messages[id]; ok && !containsMessage(out, id) {
			out = append(out, m)
		}
	}
	return out, nil
}

func containsMessage(list []domain.Message, id string) bool {
	for _, m := range list {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (r memMessages) List(ctx context.Context, params repository.ListParams) ([]domain.Message, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Message, 0, len(r.s.messages))
	for _, m := range r.s.messages {
		out = append(out, m)
	}
	return out, int64(len(out)), nil
}

func (r memMessages) DeleteCreatedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var deleted int64
	for id, m := range r.s.messages {
		if !m.CreatedAt.Before(before) {
			continue
		}
		delete(r.s.messages, id)
		deleted++
		for emailID, e := range r.s.emails {
			if e.MessageID != id {
				continue
			}
			delete(r.s.emails, emailID)
			for bid, b := range r.s.bounces {
				if b.EmailID == emailID {
					delete(r.s.bounces, bid)
				}
			}
			for did, d := range r.s.deliveries {
				if d.EmailID == emailID {
					delete(r.s.deliveries, did)
				}
			}
		}
	}
	return deleted, nil
}

type memEmails struct{ s *memStore }

func (r memEmails) GetOrCreate(ctx context.Context, e *domain.Email) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.emails {
		if existing.SendID == e.SendID {
			*e = existing
			return false, nil
		}
	}
	for _, existing := range r.s.emails {
		if e.ProviderMessageID != nil && existing.ProviderMessageID != nil && *existing.ProviderMessageID == *e.ProviderMessageID {
			return false, domain.ErrConflict
		}
	}
	e.ID = r.s.nextID("email")
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	r.s.emails[e.ID] = *e
	return true, nil
}

func (r memEmails) AttachProviderResponse(ctx context.Context, sendID string, fields repository.ProviderFields) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, e := range r.s.emails {
		if e.SendID != sendID || e.ProviderMessageID != nil {
			continue
		}
		e.SubmittedAt = fields.SubmittedAt
		e.ProviderMessageID = fields.ProviderMessageID
		e.ProviderErrorCode = fields.ProviderErrorCode
		e.ProviderMessage = fields.ProviderMessage
		e.SendingError = ""
		r.s.emails[id] = e
		return true, nil
	}
	return false, nil
}

func (r memEmails) GetByID(ctx context.Context, id string) (*domain.Email, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.emails[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (r memEmails) GetBySendID(ctx context.Context, sendID string) (*domain.Email, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.emails {
		if e.SendID == sendID {
			return &e, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r memEmails) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Email, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.emailLookupErr != nil {
		return nil, r.s.emailLookupErr
	}
	for _, e := range r.s.emails {
		if e.ProviderMessageID != nil && *e.ProviderMessageID == providerMessageID {
			return &e, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r memEmails) GetByIDs(ctx context.Context, ids []string) ([]domain.Email, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []domain.Email{}
	seen := map[string]bool{}
	for _, id := range ids {
		if e, ok := r.s.emails[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, e)
		}
	}
	return out, nil
}

func (r memEmails) ListByMessageIDs(ctx context.Context, messageIDs []string) ([]domain.Email, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range messageIDs {
		wanted[id] = true
	}
	out := []domain.Email{}
	for _, e := range r.s.emails {
		if wanted[e.MessageID] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (r memEmails) List(ctx context.Context, params repository.ListParams) ([]domain.Email, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Email, 0, len(r.s.emails))
	for _, e := range r.s.emails {
		out = append(out, e)
	}
	return out, int64(len(out)), nil
}

type memBounces struct{ s *memStore }

func (r memBounces) GetOrCreate(ctx context.Context, b *domain.Bounce) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.bounces {
		if existing.BounceID == b.BounceID {
			*b = existing
			return false, nil
		}
	}
	b.ID = r.s.nextID("bounce")
	r.s.bounces[b.ID] = *b
	return true, nil
}

func (r memBounces) GetByBounceIDs(ctx context.Context, bounceIDs []int64) ([]domain.Bounce, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wanted := map[int64]bool{}
	for _, id := range bounceIDs {
		wanted[id] = true
	}
	out := []domain.Bounce{}
	for _, b := range r.s.bounces {
		if wanted[b.BounceID] {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r memBounces) ListByEmailIDs(ctx context.Context, emailIDs []string) ([]domain.Bounce, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range emailIDs {
		wanted[id] = true
	}
	out := []domain.Bounce{}
	for _, b := range r.s.bounces {
		if wanted[b.EmailID] {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r memBounces) MarkResent(ctx context.Context, bounceID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.markResentErr != nil {
		return r.s.markResentErr
	}
	for id, b := range r.s.bounces {
		if b.BounceID == bounceID {
			b.HasBeenResent = true
			r.s.bounces[id] = b
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r memBounces) List(ctx context.Context, params repository.ListParams) ([]domain.Bounce, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Bounce, 0, len(r.s.bounces))
	for _, b := range r.s.bounces {
		out = append(out, b)
	}
	return out, int64(len(out)), nil
}

type memDeliveries struct{ s *memStore }

func (r memDeliveries) GetOrCreate(ctx context.Context, d *domain.Delivery) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.deliveries {
		if existing.EmailID == d.EmailID && existing.EmailAddress == d.EmailAddress {
			*d = existing
			return false, nil
		}
	}
	d.ID = r.s.nextID("delivery")
	r.s.deliveries[d.ID] = *d
	return true, nil
}

func (r memDeliveries) ListByEmailIDs(ctx context.Context, emailIDs []string) ([]domain.Delivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range emailIDs {
		wanted[id] = true
	}
	out := []domain.Delivery{}
	for _, d := range r.s.deliveries {
		if wanted[d.EmailID] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r memDeliveries) List(ctx context.Context, params repository.ListParams) ([]domain.Delivery, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Delivery, 0, len(r.s.deliveries))
	for _, d := range r.s.deliveries {
		out = append(out, d)
	}
	return out, int64(len(out)), nil
}

type fakeTransport struct {
	mu        sync.Mutex
	calls     []domain.OutboundMessage
	sendFn    func(ctx context.Context, msg domain.OutboundMessage) (*domain.SendResult, error)
	sendBatch func(ctx context.Context, msgs []domain.OutboundMessage) (map[string]provider.BatchOutcome, error)
}

func (f *fakeTransport) Send(ctx context.Context, msg domain.OutboundMessage) (*domain.SendResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return &domain.SendResult{
		SubmittedAt:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ProviderMessageID: "pm-" + msg.MessageID,
		Message:           "OK",
	}, nil
}

func (f *fakeTransport) SendBatch(ctx context.Context, msgs []domain.OutboundMessage) (map[string]provider.BatchOutcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msgs...)
	f.mu.Unlock()
	if f.sendBatch != nil {
		return f.sendBatch(ctx, msgs)
	}
	return nil, errors.New("not implemented")
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTransport) lastCall() domain.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeRecorder struct {
	recordFn func(ctx context.Context, msg domain.OutboundMessage, result *domain.SendResult, sendErr error) error
}

func (f *fakeRecorder) RecordSendOutcome(ctx context.Context, msg domain.OutboundMessage, result *domain.SendResult, sendErr error) error {
	if f.recordFn != nil {
		return f.recordFn(ctx, msg, result, sendErr)
	}
	return nil
}

type fakeLocker struct {
	mu        sync.Mutex
	acquired  []string
	err       error
	onAcquire func(key string)
}

func (f *fakeLocker) Acquire(ctx context.Context, key string) (lock.ReleaseFunc, error) {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return nil, f.err
	}
	f.acquired = append(f.acquired, key)
	onAcquire := f.onAcquire
	f.mu.Unlock()

	if onAcquire != nil {
		onAcquire(key)
	}
	return func(context.Context) error { return nil }, nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, job queue.ResendJob) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, job queue.ResendJob) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, job)
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeBounceResender struct {
	resendFn func(ctx context.Context, bounceIDs []int64, opts ResendOptions) ([]domain.ResendOutcome, error)
}

func (f *fakeBounceResender) ResendBounces(ctx context.Context, bounceIDs []int64, opts ResendOptions) ([]domain.ResendOutcome, error) {
	if f.resendFn != nil {
		return f.resendFn(ctx, bounceIDs, opts)
	}
	return nil, nil
}

func outboundFixture(id string) domain.OutboundMessage {
	return domain.OutboundMessage{
		MessageID: id,
		Date:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		From:      "sender@example.com",
		To:        []string{"a@x.com", "b@x.com"},
		Cc:        []string{"c@x.com"},
		Bcc:       []string{"d@x.com"},
		Subject:   "Welcome",
		TextBody:  "hello",
	}
}
