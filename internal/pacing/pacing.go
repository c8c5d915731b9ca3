// Package pacing issues randomized, human-plausible delays between browser
// actions and detects the marketplace's verification/block signatures.
package pacing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Class is an action class with its own delay bounds.
type Class string

const (
	PostNavigation  Class = "post_navigation"
	PreClick        Class = "pre_click"
	FilterApply     Class = "filter_apply"
	FormFill        Class = "form_fill"
	PageTurn        Class = "page_turn"
	PreDetail       Class = "pre_detail"
	InterListing    Class = "inter_listing"
	PostDetailClose Class = "post_detail_close"
	InterPage       Class = "inter_page"
	ProfileTab      Class = "profile_tab"
	CoolDown        Class = "cool_down"
)

// Bounds is a delay range in seconds. Min must be positive. In an override
// a zero field keeps the default for that field.
type Bounds struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Validate rejects zero or inverted bounds.
func (b Bounds) Validate() error {
	if b.Min <= 0 {
		return fmt.Errorf("min %.2fs must be positive", b.Min)
	}
	if b.Max < b.Min {
		return fmt.Errorf("max %.2fs below min %.2fs", b.Max, b.Min)
	}
	return nil
}

// Over fills b's unset fields from def.
func (b Bounds) Over(def Bounds) Bounds {
	if b.Min == 0 {
		b.Min = def.Min
	}
	if b.Max == 0 {
		b.Max = def.Max
	}
	return b
}

// DefaultBounds are the production delays. Longer waits sit around the more
// visible actions.
func DefaultBounds() map[Class]Bounds {
	return map[Class]Bounds{
		PostNavigation:  {Min: 2, Max: 4},
		PreClick:        {Min: 2, Max: 4},
		FilterApply:     {Min: 4, Max: 7},
		FormFill:        {Min: 1, Max: 2.5},
		PageTurn:        {Min: 5, Max: 8},
		PreDetail:       {Min: 3, Max: 6},
		InterListing:    {Min: 15, Max: 30},
		PostDetailClose: {Min: 2, Max: 4},
		InterPage:       {Min: 25, Max: 50},
		ProfileTab:      {Min: 3, Max: 5},
		CoolDown:        {Min: 300, Max: 600},
	}
}

// Sleeper suspends the caller for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Controller samples and performs delays. Safe for concurrent use.
type Controller struct {
	bounds map[Class]Bounds
	sleep  Sleeper
	rnd    func() float64
	log    *zap.Logger
}

// Option customizes a Controller.
type Option func(*Controller)

// WithSleeper replaces the real sleep, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(c *Controller) { c.sleep = s }
}

// WithRand replaces the uniform [0,1) source.
func WithRand(f func() float64) Option {
	return func(c *Controller) { c.rnd = f }
}

// New builds a controller. Overrides are merged field by field over
// DefaultBounds and every resulting class is validated.
func New(overrides map[Class]Bounds, log *zap.Logger, opts ...Option) (*Controller, error) {
	bounds := DefaultBounds()
	for class, b := range overrides {
		bounds[class] = b.Over(bounds[class])
	}
	classes := make([]string, 0, len(bounds))
	for class := range bounds {
		classes = append(classes, string(class))
	}
	sort.Strings(classes)
	for _, class := range classes {
		if err := bounds[Class(class)].Validate(); err != nil {
			return nil, fmt.Errorf("pacing class %s: %w", class, err)
		}
	}

	if log == nil {
		log = zap.NewNop()
	}
	c := &Controller{
		bounds: bounds,
		sleep:  sleepContext,
		rnd:    rand.Float64,
		log:    log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Bounds returns the bounds configured for class.
func (c *Controller) Bounds(class Class) (Bounds, bool) {
	b, ok := c.bounds[class]
	return b, ok
}

// Sample draws a uniform duration for class.
func (c *Controller) Sample(class Class) time.Duration {
	b, ok := c.bounds[class]
	if !ok {
		b = c.bounds[PreClick]
	}
	return c.sampleRange(b.Min, b.Max)
}

func (c *Controller) sampleRange(minSec, maxSec float64) time.Duration {
	secs := minSec + c.rnd()*(maxSec-minSec)
	return time.Duration(secs * float64(time.Second))
}

// Delay waits a sampled duration for class.
func (c *Controller) Delay(ctx context.Context, class Class) error {
	b, ok := c.bounds[class]
	if !ok {
		return fmt.Errorf("unknown pacing class %q", class)
	}
	return c.wait(ctx, string(class), b)
}

// DelayRange waits a uniform duration within [minSec, maxSec].
func (c *Controller) DelayRange(ctx context.Context, minSec, maxSec float64) error {
	b := Bounds{Min: minSec, Max: maxSec}
	if err := b.Validate(); err != nil {
		return err
	}
	return c.wait(ctx, "adhoc", b)
}

func (c *Controller) wait(ctx context.Context, label string, b Bounds) error {
	d := c.sampleRange(b.Min, b.Max)
	c.log.Debug("delay",
		zap.String("class", label),
		zap.Duration("wait", d),
		zap.Float64("min_s", b.Min),
		zap.Float64("max_s", b.Max))
	return c.sleep(ctx, d)
}

// CoolDownAfterBlock sleeps the long cool-down that precedes a task abort.
// The caller returns a BlockError afterwards regardless of the outcome.
func (c *Controller) CoolDownAfterBlock(ctx context.Context, signature string) error {
	b := c.bounds[CoolDown]
	d := c.sampleRange(b.Min, b.Max)
	c.log.Warn("block signature detected, cooling down before abort",
		zap.String("signature", signature),
		zap.Duration("cool_down", d))
	if err := c.sleep(ctx, d); err != nil {
		return err
	}
	c.log.Info("cool-down finished", zap.String("signature", signature))
	return nil
}

// Block runs the cool-down for a detected signature and returns the
// task-fatal error the caller propagates.
func (c *Controller) Block(ctx context.Context, signature, source string) error {
	blockErr := &BlockError{Signature: signature, Source: source}
	if err := c.CoolDownAfterBlock(ctx, signature); err != nil {
		return errors.Join(blockErr, err)
	}
	return blockErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
