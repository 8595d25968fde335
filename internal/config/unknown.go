package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownTopKeys are the valid top-level tables/keys in the config file.
var knownTopKeys = map[string]bool{
	"services": true, "rules": true, "logging": true, "fabric": true,
}

// knownServiceKeys are the valid keys inside a [services.<name>] table.
var knownServiceKeys = map[string]bool{
	"driver": true, "folders": true, "options": true,
}

// knownRuleKeys are the valid keys inside a [[rules]] entry.
var knownRuleKeys = map[string]bool{
	"match": true, "sync": true, "mode": true,
}

// knownLoggingKeys are the valid keys inside [logging].
var knownLoggingKeys = map[string]bool{
	"log_level": true, "log_file": true, "log_format": true,
}

// knownFabricKeys are the valid keys inside [fabric].
var knownFabricKeys = map[string]bool{
	"listen_addr": true, "max_in_flight": true,
}

var knownTopKeysList = sortedKeys(knownTopKeys)

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
// Per-service "options" tables are driver-specific free-form maps and
// are never flagged.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		parts := []string(key)
		if len(parts) == 0 {
			continue
		}

		top := parts[0]

		switch top {
		case "services":
			if len(parts) >= 3 && parts[2] == "options" {
				continue // driver-specific free-form options
			}

			if len(parts) >= 3 {
				errs = append(errs, checkKnownKey(parts[2], knownServiceKeysList(), fmt.Sprintf("services.%s", parts[1])))
			}
		case "rules":
			if len(parts) >= 2 {
				errs = append(errs, checkKnownKey(parts[1], knownRuleKeysList(), "rules"))
			}
		case "logging":
			if len(parts) >= 2 {
				errs = append(errs, checkKnownKey(parts[1], knownLoggingKeysList(), "logging"))
			}
		case "fabric":
			if len(parts) >= 2 {
				errs = append(errs, checkKnownKey(parts[1], knownFabricKeysList(), "fabric"))
			}
		default:
			errs = append(errs, checkKnownKey(top, knownTopKeysList, ""))
		}
	}

	return errors.Join(filterNil(errs)...)
}

func checkKnownKey(key string, known []string, section string) error {
	prefix := ""
	if section != "" {
		prefix = section + "."
	}

	suggestion := closestMatch(key, known)
	if suggestion != "" {
		return fmt.Errorf("unknown config key %q%s — did you mean %q?", prefix, key, suggestion)
	}

	return fmt.Errorf("unknown config key %q%s", prefix, key)
}

func filterNil(errs []error) []error {
	out := errs[:0]

	for _, e := range errs {
		if e != nil {
			out = append(out, e)
		}
	}

	return out
}

func knownServiceKeysList() []string { return sortedKeys(knownServiceKeys) }
func knownRuleKeysList() []string    { return sortedKeys(knownRuleKeys) }
func knownLoggingKeysList() []string { return sortedKeys(knownLoggingKeys) }
func knownFabricKeysList() []string  { return sortedKeys(knownFabricKeys) }

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
