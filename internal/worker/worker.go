package worker

import (
	"context"
	"errors"
	"log"
	"sync"

	"storefront/internal/broker"
	"storefront/internal/models"
)

// MessageSource is a stream of broker messages
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// SessionWorker delivers the auth events of one client to a callback
type SessionWorker struct {
	source       MessageSource
	eventHandler *broker.EventHandler
	clientID     string
	onChange     func(*models.User)

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewSessionWorker creates a worker that calls onChange with the session user of
// every auth event addressed to clientID
func NewSessionWorker(source MessageSource, clientID string, onChange func(*models.User)) *SessionWorker {
	w := &SessionWorker{
		source:       source,
		eventHandler: broker.NewEventHandler(),
		clientID:     clientID,
		onChange:     onChange,
		done:         make(chan struct{}),
	}
	w.eventHandler.OnSessionChange(w.handle)
	return w
}

func (w *SessionWorker) handle(_ context.Context, event *models.AuthEvent) error {
	if event.ClientID != w.clientID {
		return nil
	}
	w.onChange(event.User())
	return nil
}

// Start runs the worker in the background until Stop
func (w *SessionWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	log.Printf("Starting session worker for client %s", w.clientID)

	go func() {
		defer close(w.done)
		if err := w.source.StartConsuming(ctx, w.eventHandler.HandleMessage); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Session worker error: %v", err)
		}
	}()
}

// Stop cancels the worker, waits for it to exit and closes the source
func (w *SessionWorker) Stop() error {
	var err error
	w.once.Do(func() {
		log.Println("Stopping session worker...")
		if w.cancel != nil {
			w.cancel()
			<-w.done
		}
		err = w.source.Close()
	})
	return err
}

// Unsubscribe makes the worker usable as a session subscription handle
func (w *SessionWorker) Unsubscribe() error {
	return w.Stop()
}
