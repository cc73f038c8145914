package marketing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ruanggamer/reward-engine/logging"
	"github.com/ruanggamer/reward-engine/monitoring"
	"github.com/ruanggamer/reward-engine/reward"
	"github.com/ruanggamer/reward-engine/worker"
)

// sender is the part of Client the sink needs.
type sender interface {
	Send(ctx context.Context, events ...ServerEvent) (int, error)
}

// Sink implements reward.Notifier on a bounded worker pool. When the queue
// is full the event is dropped and counted.
type Sink struct {
	client  sender
	pool    *worker.Pool
	logger  *zap.Logger
	timeout time.Duration
	clock   func() time.Time
}

var _ reward.Notifier = (*Sink)(nil)

func NewSink(client sender, workers, queue int, logger *zap.Logger) *Sink {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	return &Sink{
		client:  client,
		pool:    worker.NewPool(workers, queue),
		logger:  logging.OrNop(logger).With(zap.String("component", "marketing")),
		timeout: 10 * time.Second,
		clock:   time.Now,
	}
}

// Notify queues ev for delivery and returns immediately.
func (s *Sink) Notify(ev reward.Event) {
	se := s.toServerEvent(ev)
	ok := s.pool.TryExec(worker.TaskFunc(func() { s.deliver(se) }))
	if !ok {
		monitoring.MarketingEventsTotal.WithLabelValues("dropped").Inc()
		s.logger.Warn("marketing queue full, event dropped",
			zap.String("event_name", ev.Name), zap.String("event_id", ev.EventID))
	}
}

// Close stops accepting events and waits for queued ones to finish.
func (s *Sink) Close() {
	s.pool.Close()
	s.pool.Wait()
}

func (s *Sink) deliver(ev ServerEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.client.Send(ctx, ev); err != nil {
		monitoring.MarketingEventsTotal.WithLabelValues("failed").Inc()
		s.logger.Error("marketing event failed",
			zap.String("event_name", ev.EventName), zap.String("event_id", ev.EventID), zap.Error(err))
		return
	}
	monitoring.MarketingEventsTotal.WithLabelValues("sent").Inc()
	s.logger.Info("marketing event sent",
		zap.String("event_name", ev.EventName), zap.String("event_id", ev.EventID))
}

func (s *Sink) toServerEvent(ev reward.Event) ServerEvent {
	currency := ev.Currency
	if currency == "" {
		currency = reward.DefaultCurrency
	}
	emails := []string{}
	if h := HashPII(ev.Email); h != "" {
		emails = append(emails, h)
	}
	contentIDs := ev.ContentIDs
	if contentIDs == nil {
		contentIDs = []string{}
	}
	return ServerEvent{
		EventName:    ev.Name,
		EventTime:    s.clock().Unix(),
		ActionSource: actionSource,
		EventID:      ev.EventID,
		UserData: UserData{
			ExternalID:      HashPII(string(ev.AccountID)),
			Emails:          emails,
			ClientUserAgent: UserAgent,
		},
		CustomData: CustomData{
			Value:       ev.Value.InexactFloat64(),
			Currency:    currency,
			ContentIDs:  contentIDs,
			ContentName: ev.ContentName,
			ContentType: contentType,
		},
	}
}
