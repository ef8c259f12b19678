// Package notifier pushes operator alerts for events that need a human:
// risk pauses, accounting faults and orders stuck in an unknown state.
package notifier

import "fmt"

// Notifier delivers a short alert message.
type Notifier interface {
	Notify(text string) error
}

// Nop discards all alerts. Used when no channel is configured.
type Nop struct{}

func (Nop) Notify(string) error { return nil }

// Alertf formats and sends, swallowing nothing: callers decide whether a
// delivery failure matters.
func Alertf(n Notifier, format string, args ...any) error {
	if n == nil {
		return nil
	}
	return n.Notify(fmt.Sprintf(format, args...))
}
