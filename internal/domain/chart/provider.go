package chart

import "context"

// PlaysProvider fetches one member's weekly listening data from the
// scrobbling service. Implementations live in the infrastructure layer.
type PlaysProvider interface {
	// WeeklyPlays returns the member's plays for the given chart type and
	// week window, ordered by playcount descending. The session key may be
	// empty for members whose listening data is public.
	WeeklyPlays(ctx context.Context, username, sessionKey string, chartType Type, week Window) ([]PlayEntry, error)
}
