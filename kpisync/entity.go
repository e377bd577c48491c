// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

package kpisync

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// EntityKind identifies one replicated entity type. The set is closed:
// unknown names are rejected by ParseEntityKind before any sync work starts.
type EntityKind string

const (
	KindProjects   EntityKind = "projects"
	KindSuites     EntityKind = "suites"
	KindCases      EntityKind = "cases"
	KindRuns       EntityKind = "runs"
	KindPlans      EntityKind = "plans"
	KindTests      EntityKind = "tests"
	KindResults    EntityKind = "results"
	KindMilestones EntityKind = "milestones"
	KindStatuses   EntityKind = "statuses"
	KindUsers      EntityKind = "users"
	KindJiraIssues EntityKind = "jira_issues"

	// KindAll runs every registered entity in dependency order.
	KindAll EntityKind = "all"
)

var entityKinds = map[EntityKind]bool{
	KindProjects:   true,
	KindSuites:     true,
	KindCases:      true,
	KindRuns:       true,
	KindPlans:      true,
	KindTests:      true,
	KindResults:    true,
	KindMilestones: true,
	KindStatuses:   true,
	KindUsers:      true,
	KindJiraIssues: true,
	KindAll:        true,
}

// ParseEntityKind maps an entity name from a trigger request to its kind.
func ParseEntityKind(name string) (EntityKind, error) {
	kind := EntityKind(strings.ToLower(strings.TrimSpace(name)))
	if !entityKinds[kind] {
		return "", fmt.Errorf("unknown entity: %q", name)
	}
	return kind, nil
}

// Record is one source entity as returned by a source API. The engine does
// not model full schemas; it only reads the handful of fields used for
// fan-out keys, scoping, ordering and custom-field markers.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Enrich returns a copy of the record with the given scope keys set.
// The receiver is never mutated so the same fetched object can back
// multiple derived rows (plan-derived runs reuse the embedded run maps).
func (r Record) Enrich(keys map[string]any) Record {
	out := r.Clone()
	for k, v := range keys {
		out[k] = v
	}
	return out
}

// CustomFields collects every field whose name carries the custom_ prefix.
// The prefixed fields stay on the record; callers serialize the collected
// mapping into a single custom_fields column so downstream consumers get
// one uniform access point without losing raw fidelity.
func (r Record) CustomFields() Record {
	var out Record
	for k, v := range r {
		if strings.HasPrefix(k, "custom_") {
			if out == nil {
				out = Record{}
			}
			out[k] = v
		}
	}
	return out
}

// SerializeCustomFields adds a custom_fields JSON text field to a copy of
// the record when any custom_ prefixed fields are present.
func (r Record) SerializeCustomFields() (Record, error) {
	cf := r.CustomFields()
	if cf == nil {
		return r, nil
	}
	encoded, err := json.Marshal(cf)
	if err != nil {
		return nil, fmt.Errorf("serialize custom fields: %w", err)
	}
	return r.Enrich(map[string]any{"custom_fields": string(encoded)}), nil
}

// Int64 reads a numeric field, tolerating the encodings JSON decoding
// produces (float64, json.Number) plus integral strings.
func (r Record) Int64(key string) (int64, bool) {
	return asInt64(r[key])
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// epochSeconds normalizes a source timestamp field to Unix seconds.
// Source timestamps are expected to be epoch integers; anything that
// cannot be read as one is reported as absent rather than compared.
func epochSeconds(v any) (int64, bool) {
	ts, ok := asInt64(v)
	if !ok || ts <= 0 {
		return 0, false
	}
	return ts, true
}

// recordTimestamp returns the record's update timestamp, preferring
// updated_on and falling back to created_on.
func recordTimestamp(r Record) (int64, bool) {
	if ts, ok := epochSeconds(r["updated_on"]); ok {
		return ts, true
	}
	return epochSeconds(r["created_on"])
}

// maxTimestamp scans all records for the highest update timestamp. Result
// sets are not globally ordered by update time, so the whole collection is
// scanned instead of trusting first/last record order.
func maxTimestamp(records []Record, floor int64) int64 {
	max := floor
	for _, r := range records {
		if ts, ok := recordTimestamp(r); ok && ts > max {
			max = ts
		}
	}
	return max
}
