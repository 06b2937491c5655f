// Package notify delivers email and SMS notifications and records every attempt.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nimbusid/authapi/internal/auth"
	"github.com/nimbusid/authapi/internal/obs"
)

// Provider responses recorded when an SMS is not attempted.
const (
	ResponseSMSDisabled = "SMS disabled in env"
	ResponseNoPhone     = "No phone number on file"
)

// Mailer sends a plain-text email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMSSender sends a text message to an E.164 number and returns the provider response.
type SMSSender interface {
	Send(ctx context.Context, to, message string) (string, error)
}

// Channels holds the per-channel on/off switches.
type Channels struct {
	EmailEnabled bool
	SMSEnabled   bool
}

// Recipient identifies who a notification is for and where to deliver it.
type Recipient struct {
	Kind        auth.Kind
	PrincipalID string
	Email       string
	Phone       string
	CountryCode string
}

// Dispatcher sends notifications and writes a NotificationRecord per attempt.
// Nothing it does returns an error to the caller.
type Dispatcher struct {
	store    auth.NotificationStore
	mailer   Mailer
	sms      SMSSender
	channels Channels
	region   string
	reporter obs.Reporter
	logger   *zap.Logger
	now      func() time.Time
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithReporter sets the sink for record write failures.
func WithReporter(r obs.Reporter) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.reporter = r
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDefaultRegion sets the region used for numbers without a country code.
func WithDefaultRegion(region string) Option {
	return func(d *Dispatcher) { d.region = strings.ToUpper(strings.TrimSpace(region)) }
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.now = fn
		}
	}
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(store auth.NotificationStore, mailer Mailer, sms SMSSender, channels Channels, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		mailer:   mailer,
		sms:      sms,
		channels: channels,
		reporter: obs.ReporterFunc(func(context.Context, error, ...zap.Field) {}),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// EmailEnabled reports the email switch.
func (d *Dispatcher) EmailEnabled() bool { return d.channels.EmailEnabled }

// Send dispatches on channel and returns the record written.
func (d *Dispatcher) Send(ctx context.Context, channel string, r Recipient, subject, message string) auth.NotificationRecord {
	switch channel {
	case auth.ChannelEmail:
		return d.Email(ctx, r, subject, message)
	case auth.ChannelSMS:
		return d.SMS(ctx, r, message)
	default:
		rec := d.newRecord(r, channel, "", subject, message)
		rec.Status = auth.DeliveryFailed
		rec.ProviderResponse = fmt.Sprintf("unknown channel %q", channel)
		d.record(ctx, r.Kind, &rec)
		return rec
	}
}

// Email sends through the Mailer.
func (d *Dispatcher) Email(ctx context.Context, r Recipient, subject, message string) auth.NotificationRecord {
	rec := d.newRecord(r, auth.ChannelEmail, r.Email, subject, message)
	switch {
	case d.mailer == nil:
		rec.Status = auth.DeliveryFailed
		rec.ProviderResponse = "no mailer configured"
	default:
		if err := d.mailer.Send(ctx, r.Email, subject, message); err != nil {
			rec.Status = auth.DeliveryFailed
			rec.ProviderResponse = err.Error()
		} else {
			rec.Status = auth.DeliverySent
		}
	}
	d.record(ctx, r.Kind, &rec)
	return rec
}

// SMS sends through the SMSSender when the channel is enabled and a phone is on file.
func (d *Dispatcher) SMS(ctx context.Context, r Recipient, message string) auth.NotificationRecord {
	rec := d.newRecord(r, auth.ChannelSMS, strings.TrimSpace(r.Phone), "", message)
	switch {
	case !d.channels.SMSEnabled:
		rec.Status = auth.DeliveryFailed
		rec.ProviderResponse = ResponseSMSDisabled
	case rec.To == "":
		rec.Status = auth.DeliveryFailed
		rec.ProviderResponse = ResponseNoPhone
	case d.sms == nil:
		rec.Status = auth.DeliveryFailed
		rec.ProviderResponse = "no sms sender configured"
	default:
		to, err := NormalizePhone(rec.To, r.CountryCode, d.region)
		if err != nil {
			rec.Status = auth.DeliveryFailed
			rec.ProviderResponse = err.Error()
			break
		}
		rec.To = to
		resp, err := d.sms.Send(ctx, to, message)
		if err != nil {
			rec.Status = auth.DeliveryFailed
			rec.ProviderResponse = err.Error()
			break
		}
		rec.Status = auth.DeliverySent
		rec.ProviderResponse = resp
	}
	d.record(ctx, r.Kind, &rec)
	return rec
}

func (d *Dispatcher) newRecord(r Recipient, channel, to, subject, message string) auth.NotificationRecord {
	return auth.NotificationRecord{
		PrincipalID: r.PrincipalID,
		Channel:     channel,
		To:          to,
		Subject:     subject,
		Message:     message,
		CreatedAt:   d.now().UTC(),
	}
}

func (d *Dispatcher) record(ctx context.Context, kind auth.Kind, rec *auth.NotificationRecord) {
	obs.Notification(rec.Channel, rec.Status)
	d.logger.Debug("notification",
		zap.String("kind", kind.String()),
		zap.String("channel", rec.Channel),
		zap.String("status", rec.Status),
		zap.String("principal_id", rec.PrincipalID),
	)
	if d.store == nil {
		return
	}
	if err := d.store.Append(ctx, kind, rec); err != nil {
		d.reporter.Report(ctx, fmt.Errorf("record notification: %w", err),
			zap.String("channel", rec.Channel), zap.String("principal_id", rec.PrincipalID))
	}
}
