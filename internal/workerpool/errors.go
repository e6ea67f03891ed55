package workerpool

import (
	"github.com/jihwankim/irrig-core/internal/apierr"
	"github.com/jihwankim/irrig-core/internal/queue"
)

func errTimeout(r *queue.Request) error {
	return apierr.New(apierr.Timeout, "request %s timed out waiting in queue", r.ID)
}

func errPanic(r *queue.Request) error {
	return apierr.New(apierr.Hardware, "handler for %s panicked", r.URI)
}
