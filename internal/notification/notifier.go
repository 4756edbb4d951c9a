// Package notification delivers operational alerts (risk breaches, strategy
// failures, feed loss) to external channels. Delivery is asynchronous through
// a bounded queue so a slow webhook never stalls the pipeline.
package notification

import (
	"context"
	"log"
)

// Level is the alert severity.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Alert is one deliverable event.
type Alert struct {
	Level   Level  `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Notifier delivers an alert to one backend.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the process log. Always registered so alerts
// are visible even with no external channel configured.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Alerter fans alerts out to every configured backend from a single
// dispatcher goroutine. Post never blocks; when the queue is full the alert
// is dropped and counted through OnDrop.
type Alerter struct {
	backends []Notifier
	queue    chan Alert

	OnDrop func()
}

// NewAlerter creates an Alerter over the given backends. A nil backend list
// still logs via LogNotifier.
func NewAlerter(backends ...Notifier) *Alerter {
	all := append([]Notifier{LogNotifier{}}, backends...)
	return &Alerter{
		backends: all,
		queue:    make(chan Alert, 64),
	}
}

// Post enqueues an alert for delivery. Non-blocking.
func (a *Alerter) Post(alert Alert) {
	select {
	case a.queue <- alert:
	default:
		if a.OnDrop != nil {
			a.OnDrop()
		}
	}
}

// Run dispatches queued alerts until ctx is cancelled.
func (a *Alerter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-a.queue:
			for _, n := range a.backends {
				if err := n.Send(ctx, alert); err != nil {
					log.Printf("[notify] delivery failed: %v", err)
				}
			}
		}
	}
}
