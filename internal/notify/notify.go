// Package notify fans an accepted listing out to the configured alert
// channels. Channel failures are isolated from each other and from the
// pipeline.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"xianyuwatch/internal/types"

	"go.uber.org/zap"
)

// Alert is a formatted notification.
type Alert struct {
	Title   string
	Message string
}

// Channel delivers one alert.
type Channel interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// Options control alert formatting.
type Options struct {
	// MobileLinks adds a mobile share link next to the desktop link.
	MobileLinks bool
	// Timeout bounds each channel's delivery.
	Timeout time.Duration
}

const titleRunes = 30

// Format renders the alert for listing with the verdict reason.
func Format(listing types.Listing, reason string, mobileLinks bool) Alert {
	title := listing.Title
	if title == "" {
		title = types.NotApplicable
	}
	if r := []rune(title); len(r) > titleRunes {
		title = string(r[:titleRunes])
	}
	price := listing.Price
	if price == "" {
		price = types.NotApplicable
	}
	link := listing.Link
	if link == "" {
		link = "#"
	}

	var msg string
	if mobileLinks {
		msg = fmt.Sprintf("Price: %s\nReason: %s\nMobile link: %s\nDesktop link: %s", price, reason, MobileLink(link), link)
	} else {
		msg = fmt.Sprintf("Price: %s\nReason: %s\nLink: %s", price, reason, link)
	}
	return Alert{Title: "🚨 New recommendation! " + title + "...", Message: msg}
}

// Dispatcher sends alerts to every channel.
type Dispatcher struct {
	channels []Channel
	opts     Options
	log      *zap.Logger
}

// NewDispatcher creates a dispatcher over channels.
func NewDispatcher(channels []Channel, opts Options, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Dispatcher{channels: channels, opts: opts, log: log}
}

// Channels returns the configured channel count.
func (d *Dispatcher) Channels() int { return len(d.channels) }

// Notify delivers the alert to each channel in turn. Each failure is logged
// and collected; one channel failing never stops the next.
func (d *Dispatcher) Notify(ctx context.Context, listing types.Listing, reason string) error {
	if len(d.channels) == 0 {
		d.log.Warn("no notification channel configured, alert skipped", zap.String("item_id", listing.ID))
		return nil
	}
	alert := Format(listing, reason, d.opts.MobileLinks)

	var errs []error
	for _, ch := range d.channels {
		err := d.send(ctx, ch, alert)
		if err != nil {
			d.log.Warn("notification failed",
				zap.String("channel", ch.Name()),
				zap.String("item_id", listing.ID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		d.log.Info("notification sent", zap.String("channel", ch.Name()), zap.String("item_id", listing.ID))
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, a Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel panicked: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()
	return ch.Send(ctx, a)
}
