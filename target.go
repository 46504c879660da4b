package relaymq

import (
	"fmt"
	"strings"
)

// CommandTarget is a parsed Command/Query target of the form "<queue>/<method>".
type CommandTarget struct {
	Queue  string
	Method string
}

// ParseCommandTarget splits a Command/Query target string.
func ParseCommandTarget(target string) (CommandTarget, error) {
	queue, method, ok := strings.Cut(target, "/")
	if !ok || queue == "" || method == "" {
		return CommandTarget{}, NewConfigError(fmt.Errorf("invalid command/query target %q, want \"queue/method\"", target))
	}

	return CommandTarget{Queue: queue, Method: method}, nil
}

// EventTarget is a parsed Event target of the form "<topic>#<event_type>".
type EventTarget struct {
	Topic     string
	EventType string
}

// ParseEventTarget splits an Event target string.
func ParseEventTarget(target string) (EventTarget, error) {
	topic, eventType, ok := strings.Cut(target, "#")
	if !ok || topic == "" || eventType == "" {
		return EventTarget{}, NewConfigError(fmt.Errorf("invalid event target %q, want \"topic#event_type\"", target))
	}

	return EventTarget{Topic: topic, EventType: eventType}, nil
}
