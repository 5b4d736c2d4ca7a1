package transport

import "strings"

const alertSuffix = "alerts"

// MachineTopic is where averaged samples for machine are published.
func MachineTopic(prefix, machine string) string {
	return strings.TrimRight(prefix, "/") + "/" + machine
}

// AlertTopic is the alert topic for an inbound sample topic.
func AlertTopic(inbound string) string {
	return strings.TrimRight(inbound, "/") + "/" + alertSuffix
}

// SamplePattern matches exactly one level below prefix, so the engine never
// receives its own `<prefix>/<machine>/alerts` output.
func SamplePattern(prefix string) string {
	return strings.TrimRight(prefix, "/") + "/+"
}

// MachineFromTopic returns the last level of topic.
func MachineFromTopic(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// Match reports whether topic matches an MQTT-style filter. `+` matches one
// level, a trailing `#` matches the remaining levels including none.
func Match(pattern, topic string) bool {
	if pattern == "#" {
		return true
	}
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")

	for i, level := range p {
		if level == "#" {
			return i == len(p)-1
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(p) == len(t)
}
