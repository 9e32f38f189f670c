package main

import (
	"fmt"
	"os"
	"strings"
)

// uiMode selects the progress display. It is a cobra flag value.
type uiMode string

const (
	uiModeAuto uiMode = "auto"
	uiModeOn   uiMode = "on"
	uiModeOff  uiMode = "off"
)

func (m *uiMode) String() string {
	if *m == "" {
		return string(uiModeAuto)
	}
	return string(*m)
}

func (m *uiMode) Set(value string) error {
	switch v := uiMode(strings.TrimSpace(strings.ToLower(value))); v {
	case "":
		*m = uiModeAuto
	case uiModeAuto, uiModeOn, uiModeOff:
		*m = v
	default:
		return fmt.Errorf("invalid value %q (expected auto|on|off)", value)
	}
	return nil
}

func (m *uiMode) Type() string { return "mode" }

// enabled reports whether the interactive display should run. Auto follows
// whether stdout is a terminal.
func (m uiMode) enabled() bool {
	switch m {
	case uiModeOn:
		return true
	case uiModeOff:
		return false
	default:
		return isTerminal(os.Stdout)
	}
}
