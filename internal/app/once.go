package app

import (
	"context"
	"fmt"
)

// Once runs a single poll cycle and prints its summary.
func (a *App) Once(ctx context.Context) error {
	poller, closeState, err := a.newPoller(ctx, nil)
	if err != nil {
		return err
	}
	defer closeState()

	report := poller.RunCycle(ctx)
	fmt.Fprintf(a.Out, "cycle %s: %d alerts, %d suppressed, %d skipped, %d failures\n",
		report.Cycle, report.Alerts, report.Suppressed, report.Skipped, report.Failures)
	if report.Failures > 0 {
		return fmt.Errorf("cycle finished with %d failures; see logs", report.Failures)
	}
	return nil
}
