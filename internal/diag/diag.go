// Package diag implements the bench diagnostics: a one-shot report of the
// controller and sensor state, and a protocol latency benchmark.
package diag

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/sweeney/cvt-actuator/internal/odrive"
	"github.com/sweeney/cvt-actuator/internal/tach"
)

// Controller is the protocol surface Report reads.
type Controller interface {
	DumpErrors(axes []int) (string, error)
	BusVoltage() (float64, error)
	BusCurrent() (float64, error)
}

// Sensors are the polled inputs Report reads.
type Sensors interface {
	Halls() (inbound, outbound bool, err error)
	EncoderPosition() int64
	EncoderSkipped() uint64
	Thermistors() ([]int, error)
}

// Counter is the pulse tally source.
type Counter interface {
	Snapshot() tach.Snapshot
}

// Report builds the multi-line diagnostic text. Sensor and bus read
// failures are written into the report; only a controller write error
// aborts it.
func Report(c Controller, s Sensors, counter Counter, axes []int) (string, error) {
	var b strings.Builder

	dump, err := c.DumpErrors(axes)
	b.WriteString(dump)
	if err != nil {
		return b.String(), fmt.Errorf("dump errors: %w", err)
	}

	in, out, err := s.Halls()
	if err != nil {
		fmt.Fprintf(&b, "\nhalls: %v", err)
	} else {
		fmt.Fprintf(&b, "\nhalls: inbound=%d outbound=%d", b2i(in), b2i(out))
	}
	fmt.Fprintf(&b, "\nencoder: %d skipped=%d", s.EncoderPosition(), s.EncoderSkipped())

	snap := counter.Snapshot()
	fmt.Fprintf(&b, "\npulses: engine=%d gearbox=%d", snap.Count(tach.Engine), snap.Count(tach.Gearbox))

	therm, err := s.Thermistors()
	b.WriteString("\nthermistors:")
	for _, v := range therm {
		fmt.Fprintf(&b, " %d", v)
	}
	if err != nil {
		fmt.Fprintf(&b, " (%v)", err)
	}

	v, verr := c.BusVoltage()
	i, ierr := c.BusCurrent()
	fmt.Fprintf(&b, "\nbus: %s V %s A", reading(v, verr), reading(i, ierr))

	return b.String(), nil
}

func reading(v float64, err error) string {
	switch {
	case err == nil:
		return fmt.Sprintf("%.3f", v)
	case odrive.IsTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Prober issues one round trip.
type Prober interface {
	VelocityEstimate(axis int) (float64, error)
}

// BenchResult summarizes a latency benchmark. Statistics cover answered
// round trips only.
type BenchResult struct {
	N        int
	Answered int
	Timeouts int
	Errors   int
	Mean     time.Duration
	StdDev   time.Duration
	P95      time.Duration
	Min      time.Duration
	Max      time.Duration
}

func (r BenchResult) String() string {
	return fmt.Sprintf("n=%d answered=%d timeouts=%d errors=%d mean=%v stddev=%v p95=%v min=%v max=%v",
		r.N, r.Answered, r.Timeouts, r.Errors, r.Mean, r.StdDev, r.P95, r.Min, r.Max)
}

// Benchmark times n velocity-estimate round trips on axis.
func Benchmark(p Prober, axis, n int) BenchResult {
	return benchmark(p, axis, n, time.Now)
}

func benchmark(p Prober, axis, n int, now func() time.Time) BenchResult {
	res := BenchResult{N: n}
	samples := make([]float64, 0, n)
	for k := 0; k < n; k++ {
		start := now()
		_, err := p.VelocityEstimate(axis)
		d := now().Sub(start)
		switch {
		case err == nil:
			samples = append(samples, float64(d))
		case odrive.IsTimeout(err):
			res.Timeouts++
		default:
			res.Errors++
		}
	}
	res.Answered = len(samples)
	if len(samples) == 0 {
		return res
	}

	sort.Float64s(samples)
	mean, std := stat.MeanStdDev(samples, nil)
	if math.IsNaN(std) {
		std = 0
	}
	res.Mean = time.Duration(mean)
	res.StdDev = time.Duration(std)
	res.P95 = time.Duration(stat.Quantile(0.95, stat.Empirical, samples, nil))
	res.Min = time.Duration(samples[0])
	res.Max = time.Duration(samples[len(samples)-1])
	return res
}
