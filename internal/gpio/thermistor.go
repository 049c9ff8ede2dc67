package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

// IIOThermistors reads raw ADC counts from Linux IIO sysfs channel files.
type IIOThermistors struct {
	paths []string
}

// NewIIOThermistors returns a reader for the given channels of device.
// An empty device yields a reader with no channels.
func NewIIOThermistors(device string, channels []int) *IIOThermistors {
	t := &IIOThermistors{}
	if device == "" {
		return t
	}
	for _, ch := range channels {
		t.paths = append(t.paths, filepath.Join(device, fmt.Sprintf("in_voltage%d_raw", ch)))
	}
	return t
}

// Read returns one value per channel. A channel that cannot be read is
// reported as -1 and its error joined into the returned error, so one bad
// channel does not hide the others.
func (t *IIOThermistors) Read() ([]int, error) {
	out := make([]int, len(t.paths))
	var errs error
	for i, p := range t.paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			out[i] = -1
			errs = multierr.Append(errs, fmt.Errorf("read thermistor %d: %w", i+1, err))
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		if err != nil {
			out[i] = -1
			errs = multierr.Append(errs, fmt.Errorf("parse thermistor %d: %w", i+1, err))
			continue
		}
		out[i] = v
	}
	return out, errs
}
