package notify

import (
	"context"
	"errors"

	"forumguard/internal/moderation"
)

// Multi dispatches each event to every member, collecting their errors
type Multi []moderation.Dispatcher

var _ moderation.Dispatcher = Multi(nil)

func (m Multi) Dispatch(ctx context.Context, evt moderation.Event) error {
	var errs []error
	for _, d := range m {
		if d == nil {
			continue
		}
		if err := d.Dispatch(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
