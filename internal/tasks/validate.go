package tasks

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

// ValidationError names the first violated field of a task list. Target is
// the offending target when the violation is inside one.
type ValidationError struct {
	Field  string
	Reason string
	Target any
}

func (e *ValidationError) Error() string {
	msg := "malformed task list: " + e.Reason
	if e.Target != nil {
		b, err := json.Marshal(e.Target)
		if err != nil {
			b = []byte(fmt.Sprintf("%v", e.Target))
		}
		msg += ", at\n" + string(b)
	}
	return msg
}

func violation(field, reason string, target any) error {
	return &ValidationError{Field: field, Reason: reason, Target: target}
}

// Validate checks a loosely typed task document (as decoded from JSON or
// YAML) and returns the first violation as a *ValidationError.
func Validate(raw any) error {
	doc, ok := asMap(raw)
	if !ok {
		return violation("", "task list should be an object", nil)
	}

	rawSources, present := doc["sources"]
	if !present || rawSources == nil {
		return violation("sources", `missing a "sources" field`, nil)
	}
	sources, ok := asMap(rawSources)
	if !ok {
		return violation("sources", "sources must be an object", nil)
	}
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := sources[name]
		s, _ := v.(string)
		if err := checkAbsoluteURL(s); err != nil {
			return violation("sources."+name, fmt.Sprintf("url for sources.%s is not valid: %v", name, v), nil)
		}
	}

	rawTargets, present := doc["targets"]
	if !present || rawTargets == nil {
		return violation("targets", `missing a "targets" field`, nil)
	}
	targets, ok := rawTargets.([]any)
	if !ok {
		return violation("targets", "targets must be an array", nil)
	}
	for _, rt := range targets {
		if err := validateTarget(rt, sources); err != nil {
			return err
		}
	}

	if out, _ := doc["outDirectory"].(string); out == "" {
		return violation("outDirectory", `missing a string "outDirectory" field`, nil)
	}
	return nil
}

func validateTarget(rt any, sources map[string]any) error {
	target, ok := asMap(rt)
	if !ok {
		return violation("target", "target must be an object", rt)
	}
	if s, _ := target["name"].(string); s == "" {
		return violation("name", `target must have a string "name" field`, target)
	}
	source, _ := target["source"].(string)
	if source == "" {
		return violation("source", `target must have a string "source" field`, target)
	}
	if _, ok := sources[source]; !ok {
		return violation("source", "target does not have a valid source", target)
	}
	duration, _ := target["duration"].(string)
	if duration == "" {
		return violation("duration", `target must have a string "duration" field`, target)
	}
	if _, err := ParseClock(duration); err != nil {
		return violation("duration", "target.duration formatted incorrectly, should be HH:MM", target)
	}
	start, ok := asMap(target["start"])
	if !ok {
		return violation("start", `target must have an object "start" field`, target)
	}
	weekday, _ := start["weekday"].(string)
	if weekday == "" {
		return violation("start.weekday", `target.start must have a string "weekday" field`, target)
	}
	if !isWeekday(weekday) {
		return violation("start.weekday", "target.start.weekday has to be one of "+strings.Join(Weekdays, ", "), target)
	}
	startTime, _ := start["time"].(string)
	if startTime == "" {
		return violation("start.time", `target.start must have a string "time" field`, target)
	}
	if _, err := ParseClock(startTime); err != nil {
		return violation("start.time", "target.start.time formatted incorrectly, should be HH:MM", target)
	}
	return nil
}

// hostProfile maps hosts like a lookup but allows '_' and other characters
// outside STD3, as compose service names and internal hosts use them.
var hostProfile = idna.New(idna.MapForLookup(), idna.StrictDomainName(false))

func checkAbsoluteURL(s string) error {
	if s == "" {
		return fmt.Errorf("empty url")
	}
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url %q is not absolute", s)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("url %q has no host", s)
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if _, err := hostProfile.ToASCII(host); err != nil {
		return fmt.Errorf("invalid host %q: %w", host, err)
	}
	return nil
}

// asMap accepts both JSON objects and YAML mappings with non-string keys.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}
