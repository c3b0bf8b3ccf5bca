package service

import (
	"time"

	"go.uber.org/zap"
)

const DefaultFreeWeeklyActions = 3

// Options carries the knobs shared by every ledger service.
type Options struct {
	FreeWeeklyActions int
	Now               func() time.Time
	Logger            *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.FreeWeeklyActions < 0 {
		o.FreeWeeklyActions = 0
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

func (o Options) now() time.Time {
	return o.Now().UTC()
}
