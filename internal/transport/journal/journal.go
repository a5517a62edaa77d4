// Package journal writes shaped payloads to the local systemd journal.
//
// It is the fallback of last resort: when every remote channel is down, the
// alert at least lands where node-level tooling will surface it.
package journal

import (
	"context"
	"errors"

	sdjournal "github.com/coreos/go-systemd/v22/journal"

	"alertpipe/internal/notify"
	"alertpipe/internal/transport"
	logx "alertpipe/pkg/logx"
)

type Sender struct {
	log logx.Logger
}

func New(log logx.Logger) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{log: log}
}

func (s *Sender) Send(ctx context.Context, recipient string, p transport.Payload) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !sdjournal.Enabled() {
		// No journal on this host; retrying won't change that.
		return &transport.SendError{StatusCode: 400, Err: errors.New("journal: not available on this host")}
	}

	return sdjournal.Send(string(p.Body), priorityFor(p.Severity), map[string]string{
		"ALERTPIPE_RECIPIENT":   recipient,
		"ALERTPIPE_CORRELATION": p.CorrelationID,
		"ALERTPIPE_SEVERITY":    string(p.Severity),
	})
}

func priorityFor(sev notify.Severity) sdjournal.Priority {
	switch sev {
	case notify.SeverityCritical:
		return sdjournal.PriCrit
	case notify.SeverityWarning:
		return sdjournal.PriWarning
	default:
		return sdjournal.PriInfo
	}
}
