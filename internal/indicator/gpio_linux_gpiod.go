//go:build linux && (arm || arm64)

package indicator

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/warthog618/go-gpiocdev"
)

// openLine claims BCM GPIO pin as an output, low, on whichever gpiochip
// exposes a line named GPIO<pin>.
func openLine(pin int) (lineDriver, error) {
	if pin < 0 {
		return nil, fmt.Errorf("indicator: invalid gpio pin %d", pin)
	}
	name := fmt.Sprintf("GPIO%d", pin)
	for _, path := range gpioChips() {
		chip, err := gpiocdev.NewChip(path)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(name)
		if err == nil {
			var line *gpiocdev.Line
			line, err = chip.RequestLine(offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("gnss-survey-led"))
			if err == nil {
				return &gpiodLine{chip: chip, line: line}, nil
			}
		}
		_ = chip.Close()
	}
	return nil, fmt.Errorf("indicator: led line %s not found or busy", name)
}

func gpioChips() []string {
	paths, _ := filepath.Glob("/dev/gpiochip*")
	sort.Strings(paths)
	return paths
}

type gpiodLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (g *gpiodLine) SetValue(v int) error {
	if g == nil || g.line == nil {
		return fmt.Errorf("indicator: gpio line not initialized")
	}
	return g.line.SetValue(v)
}

func (g *gpiodLine) Close() error {
	if g == nil || g.line == nil {
		return nil
	}
	_ = g.line.SetValue(0)
	err := g.line.Close()
	g.line = nil
	if g.chip != nil {
		_ = g.chip.Close()
		g.chip = nil
	}
	return err
}
