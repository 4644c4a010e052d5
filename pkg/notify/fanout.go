package notify

import (
	"context"
	"errors"

	"cardscan/pkg/scan"
)

// Fanout delivers each detection to every notifier in order and joins
// their errors.
type Fanout []scan.Notifier

func (f Fanout) Notify(ctx context.Context, d scan.Detection) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
