// Package scan turns a noisy stream of decoded camera reads into at most one
// session toggle per physical badge presentation.
package scan

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"qrlogin/attendance-service/internal/models"
	"qrlogin/attendance-service/internal/session"
	"qrlogin/attendance-service/internal/store"
)

const (
	DefaultCooldown   = 3 * time.Second
	defaultOpDeadline = 10 * time.Second
)

// Read is one decode attempt. An empty Identifier means the frame held no badge.
type Read struct {
	Identifier string
	At         time.Time
}

type Toggler interface {
	Toggle(ctx context.Context, employeeID string, method models.Method) (session.Result, error)
}

type Reason string

const (
	ReasonFired    Reason = "fired"
	ReasonNoRead   Reason = "no_read"
	ReasonPending  Reason = "pending"
	ReasonCooldown Reason = "cooldown"
)

type Outcome struct {
	Reason     Reason
	EmployeeID string
	Result     session.Result
}

type Options struct {
	Cooldown time.Duration
	// RequiredFrames is how many consecutive identical reads make a candidate.
	RequiredFrames int
	Logger         *slog.Logger
}

type Dispatcher struct {
	toggler        Toggler
	cooldown       time.Duration
	requiredFrames int
	logger         *slog.Logger

	mu             sync.Mutex
	lastAcceptedID string
	lastAcceptedAt time.Time
	streakID       string
	streak         int
}

func NewDispatcher(toggler Toggler, options Options) *Dispatcher {
	d := &Dispatcher{
		toggler:        toggler,
		cooldown:       options.Cooldown,
		requiredFrames: options.RequiredFrames,
		logger:         options.Logger,
	}
	if d.cooldown <= 0 {
		d.cooldown = DefaultCooldown
	}
	if d.requiredFrames < 1 {
		d.requiredFrames = 1
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Observe processes one read. Domain errors from the toggle are returned and
// leave the cooldown state untouched so a corrected re-scan is not suppressed.
func (d *Dispatcher) Observe(ctx context.Context, read Read) (Outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if read.Identifier == "" {
		d.resetStreak()
		return Outcome{Reason: ReasonNoRead}, nil
	}
	employeeID, err := ParseBadge(read.Identifier)
	if err != nil {
		d.resetStreak()
		return Outcome{}, err
	}
	outcome := Outcome{EmployeeID: employeeID}

	if employeeID == d.streakID {
		d.streak++
	} else {
		d.streakID, d.streak = employeeID, 1
	}
	if d.streak < d.requiredFrames {
		outcome.Reason = ReasonPending
		return outcome, nil
	}
	d.resetStreak()

	if employeeID == d.lastAcceptedID && read.At.Sub(d.lastAcceptedAt) < d.cooldown {
		outcome.Reason = ReasonCooldown
		return outcome, nil
	}

	result, err := d.toggler.Toggle(ctx, employeeID, models.MethodScan)
	if err != nil {
		return outcome, err
	}
	d.lastAcceptedID = employeeID
	d.lastAcceptedAt = read.At
	outcome.Reason = ReasonFired
	outcome.Result = result
	return outcome, nil
}

func (d *Dispatcher) resetStreak() {
	d.streakID, d.streak = "", 0
}

// Run feeds reads into Observe until reads is closed or ctx is done. No error
// stops the loop. A toggle already in flight when ctx ends runs to completion.
func (d *Dispatcher) Run(ctx context.Context, reads <-chan Read) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case read, ok := <-reads:
			if !ok {
				return nil
			}
			d.handle(ctx, read)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, read Read) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultOpDeadline)
	defer cancel()

	outcome, err := d.Observe(opCtx, read)
	if err != nil {
		d.logFailure(outcome, err)
		return
	}
	if outcome.Reason == ReasonFired {
		d.logger.Info("scan accepted",
			"employee_id", outcome.EmployeeID,
			"action", outcome.Result.Action,
			"state", outcome.Result.State,
		)
	}
}

func (d *Dispatcher) logFailure(outcome Outcome, err error) {
	switch store.Kind(err) {
	case store.KindConflict, store.KindNotFound, store.KindValidation, store.KindAuth:
		d.logger.Warn("scan rejected", "employee_id", outcome.EmployeeID, "kind", store.Kind(err), "error", err)
	default:
		d.logger.Error("scan failed", "employee_id", outcome.EmployeeID, "kind", store.Kind(err), "error", err)
	}
}
