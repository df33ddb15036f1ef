package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

// toggle is the value of an auto|on|off flag such as --ui or --color.
type toggle uint8

const (
	toggleAuto toggle = iota
	toggleOn
	toggleOff
)

var toggleNames = map[string]toggle{"": toggleAuto, "auto": toggleAuto, "on": toggleOn, "off": toggleOff}

func (t toggle) String() string { return [...]string{"auto", "on", "off"}[t] }

func parseToggle(flag, value string) (toggle, error) {
	t, ok := toggleNames[strings.ToLower(strings.TrimSpace(value))]
	if !ok {
		return toggleAuto, fmt.Errorf("invalid --%s value %q (expected auto|on|off)", flag, value)
	}
	return t, nil
}

// enabled resolves auto by asking whether f is a terminal.
func (t toggle) enabled(f *os.File) bool {
	if t == toggleAuto {
		return isTerminal(f)
	}
	return t == toggleOn
}

// applyColorMode sets the global color switch from the --color flag.
func applyColorMode(value string) error {
	t, err := parseToggle("color", value)
	if err != nil {
		return err
	}
	color.NoColor = !t.enabled(os.Stderr)
	return nil
}
