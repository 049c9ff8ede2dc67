package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/sweeney/cvt-actuator/internal/diag"
)

func runDiagnostic(ctx context.Context, d *daemon, o options, sig <-chan os.Signal) error {
	log.Printf("diagnostic mode: axes=%v", d.axes())
	if o.interactive {
		runShell(ctx, d)
		return nil
	}
	ticker := time.NewTicker(o.diagInterval)
	defer ticker.Stop()
	return runReports(d, o.diagShots, os.Stdout, ticker.C, sig)
}

// runReports writes shots diagnostic reports, one per tick.
func runReports(d *daemon, shots int, w io.Writer, tick <-chan time.Time, sig <-chan os.Signal) error {
	for i := 1; i <= shots; i++ {
		report, err := diag.Report(d.client, d.inputs, d.counter, d.axes())
		if err != nil {
			return fmt.Errorf("diagnostic report: %w", err)
		}
		fmt.Fprintf(w, "--- report %d/%d\n%s\n", i, shots, report)
		if i == shots {
			break
		}
		select {
		case s := <-sig:
			log.Printf("received %v, stopping diagnostics", s)
			return nil
		case <-tick:
		}
	}
	return nil
}
