package scale

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

const (
	// readyTimeout bounds the wait for a conversion. The HX711 outputs
	// at 10 SPS, so a healthy chip is ready well inside 200ms.
	readyTimeout = 500 * time.Millisecond

	// saturated 24-bit readings indicate a wiring fault or a clock
	// glitch that powered the chip down mid-read
	rawMax = 0x7FFFFF
	rawMin = -0x800000
)

// ErrNotReady is returned when the ADC never pulled DOUT low
var ErrNotReady = errors.New("scale: hx711 not ready")

// HX711Config describes the load cell wiring and calibration
type HX711Config struct {
	DoutPin       int     // data pin, BCM numbering
	SckPin        int     // clock pin, BCM numbering
	ReferenceUnit float64 // ADC counts per gram from calibration
	TareSamples   int     // samples averaged when taring
}

// HX711 reads a load cell through an HX711 24-bit ADC on two GPIO
// lines. All methods serialize on an internal mutex: the chip has a
// single conversion register and interleaved reads corrupt it.
type HX711 struct {
	mu   sync.Mutex
	dout gpio.PinIn
	sck  gpio.PinOut

	refUnit     float64
	tareSamples int
	offset      float64 // raw counts at empty tray
}

// NewHX711 initializes the GPIO host and claims the two pins.
// The scale is not tared; callers tare once the tray is known empty.
func NewHX711(cfg HX711Config) (*HX711, error) {
	if cfg.ReferenceUnit == 0 {
		return nil, fmt.Errorf("scale: reference_unit must be non-zero (run calibrate first)")
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to init gpio host: %w", err)
	}

	dout := gpioreg.ByName(fmt.Sprintf("GPIO%d", cfg.DoutPin))
	if dout == nil {
		return nil, fmt.Errorf("scale: dout pin GPIO%d not found", cfg.DoutPin)
	}
	sck := gpioreg.ByName(fmt.Sprintf("GPIO%d", cfg.SckPin))
	if sck == nil {
		return nil, fmt.Errorf("scale: sck pin GPIO%d not found", cfg.SckPin)
	}

	if err := dout.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("failed to configure dout pin: %w", err)
	}
	// Clock idles low; holding it high >60µs powers the chip down.
	if err := sck.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to configure sck pin: %w", err)
	}

	tareSamples := cfg.TareSamples
	if tareSamples <= 0 {
		tareSamples = 15
	}

	h := &HX711{
		dout:        dout,
		sck:         sck,
		refUnit:     cfg.ReferenceUnit,
		tareSamples: tareSamples,
	}

	slog.Info("scale initialized",
		"driver", "hx711",
		"dout_pin", cfg.DoutPin,
		"sck_pin", cfg.SckPin,
		"reference_unit", cfg.ReferenceUnit,
	)
	return h, nil
}

// Read averages the requested number of raw conversions and returns
// calibrated grams rounded to 0.01g. A transient miss (chip not ready,
// saturated reading) returns ok=false and never an error; the caller
// substitutes its last known value.
func (h *HX711) Read(samples int) (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if samples <= 0 {
		samples = 1
	}

	var sum float64
	got := 0
	for i := 0; i < samples; i++ {
		raw, err := h.readRaw()
		if err != nil {
			slog.Debug("scale sample missed", "sample", i, "error", err)
			continue
		}
		sum += float64(raw)
		got++
	}
	if got == 0 {
		return 0, false
	}

	grams := (sum/float64(got) - h.offset) / h.refUnit
	return math.Round(grams*100) / 100, true
}

// Tare averages the configured number of conversions with the tray
// empty and stores the result as the zero offset.
func (h *HX711) Tare() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	avg, got, err := h.averageRaw(h.tareSamples)
	if err != nil {
		return fmt.Errorf("tare failed: %w", err)
	}

	h.offset = avg
	slog.Info("scale tared", "offset_counts", h.offset, "samples", got)
	return nil
}

// Calibrate places a known mass on a tared scale and derives the
// reference unit (counts per gram). The new value takes effect
// immediately and is returned for writing back to the configuration.
func (h *HX711) Calibrate(knownGrams float64, samples int) (float64, error) {
	if knownGrams <= 0 {
		return 0, fmt.Errorf("calibration mass must be positive, got %.2f", knownGrams)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	avg, got, err := h.averageRaw(samples)
	if err != nil {
		return 0, fmt.Errorf("calibration read failed: %w", err)
	}

	refUnit := (avg - h.offset) / knownGrams
	if refUnit == 0 {
		return 0, fmt.Errorf("calibration saw no load change (offset %.0f, reading %.0f)", h.offset, avg)
	}

	h.refUnit = refUnit
	slog.Info("scale calibrated",
		"known_grams", knownGrams,
		"samples", got,
		"reference_unit", refUnit,
	)
	return refUnit, nil
}

// Close powers the chip down by parking the clock line high
func (h *HX711) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.sck.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to reset sck pin: %w", err)
	}
	if err := h.sck.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to park sck pin: %w", err)
	}
	// >60µs high latches power-down
	time.Sleep(100 * time.Microsecond)

	slog.Info("scale powered down")
	return nil
}

// averageRaw collects up to n valid conversions. Callers hold h.mu.
func (h *HX711) averageRaw(n int) (avg float64, got int, err error) {
	if n <= 0 {
		n = 1
	}
	var sum float64
	for i := 0; i < n; i++ {
		raw, err := h.readRaw()
		if err != nil {
			continue
		}
		sum += float64(raw)
		got++
	}
	if got == 0 {
		return 0, 0, ErrNotReady
	}
	return sum / float64(got), got, nil
}

// readRaw clocks one 24-bit two's complement conversion out of the
// chip and arms the next one for channel A at gain 128. Callers hold
// h.mu.
func (h *HX711) readRaw() (int32, error) {
	if !h.waitReady(readyTimeout) {
		return 0, ErrNotReady
	}

	var raw uint32
	for i := 0; i < 24; i++ {
		if err := h.clockPulse(); err != nil {
			return 0, err
		}
		raw <<= 1
		if h.dout.Read() == gpio.High {
			raw |= 1
		}
	}
	// 25th pulse selects channel A, gain 128 for the next conversion
	if err := h.clockPulse(); err != nil {
		return 0, err
	}

	// Sign-extend 24-bit two's complement
	if raw&0x800000 != 0 {
		raw |= 0xFF000000
	}
	val := int32(raw)

	if val >= rawMax || val <= rawMin {
		return 0, fmt.Errorf("scale: saturated reading %d", val)
	}
	return val, nil
}

func (h *HX711) clockPulse() error {
	if err := h.sck.Out(gpio.High); err != nil {
		return fmt.Errorf("sck high failed: %w", err)
	}
	if err := h.sck.Out(gpio.Low); err != nil {
		return fmt.Errorf("sck low failed: %w", err)
	}
	return nil
}

// waitReady polls DOUT until the chip signals a finished conversion
func (h *HX711) waitReady(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for h.dout.Read() == gpio.High {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Microsecond)
	}
	return true
}
