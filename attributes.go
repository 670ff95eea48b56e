package guard

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// AttributeMap is a key/value map with case-insensitive keys. Keys are
// canonicalized to lower case on insert so lookups of "Region" and "region"
// hit the same entry.
type AttributeMap map[string]any

// NewAttributeMap copies src into a canonical AttributeMap.
func NewAttributeMap(src map[string]any) AttributeMap {
	m := make(AttributeMap, len(src))
	for k, v := range src {
		m[strings.ToLower(k)] = v
	}
	return m
}

// Get looks a key up case-insensitively.
func (m AttributeMap) Get(key string) (any, bool) {
	v, ok := m[strings.ToLower(key)]
	return v, ok
}

// Set stores a value under the canonical form of key.
func (m AttributeMap) Set(key string, value any) {
	m[strings.ToLower(key)] = value
}

// Clone returns a shallow copy.
func (m AttributeMap) Clone() AttributeMap {
	out := make(AttributeMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MergeAttributes folds the scoped attribute records into one map with the
// precedence User > Role > Group: all group records are applied first, role
// records overwrite them on key collision, and the single user record
// overwrites both. Absent scopes contribute nothing.
//
// Collisions inside one scope (two groups defining the same key) have no
// contractual precedence; to keep Merge deterministic records are applied in
// ascending lexicographic order of their record IDs, so the greatest ID wins.
func MergeAttributes(groupRecords, roleRecords map[string]*AttributeRecord, userRecord *AttributeRecord) AttributeMap {
	merged := make(AttributeMap)
	applyScope(merged, groupRecords)
	applyScope(merged, roleRecords)
	if userRecord != nil {
		for k, v := range userRecord.Attributes {
			merged.Set(k, v)
		}
	}
	return merged
}

func applyScope(dst AttributeMap, records map[string]*AttributeRecord) {
	if len(records) == 0 {
		return
	}
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rec := records[id]
		if rec == nil {
			continue
		}
		for k, v := range rec.Attributes {
			dst.Set(k, v)
		}
	}
}

// Blob flattens the evaluation context into a string-keyed, string-valued map
// suitable for policy engines that take an encoded context (for example a
// custom-function extension point). Scalar values are rendered directly;
// arrays and objects are JSON-encoded. Keys keep the map's canonical
// lower-case form so the case-insensitive semantics round-trip.
func (ec *EvaluationContext) Blob() map[string]string {
	blob := make(map[string]string, len(ec.Attributes)+len(ec.ResourceAttributes)+8)
	blob["subject.id"] = ec.Principal.ID
	blob["subject.name"] = ec.Principal.DisplayName
	blob["subject.email"] = ec.Principal.Email
	blob["subject.roles"] = strings.Join(ec.Principal.Roles, ",")
	blob["subject.groups"] = strings.Join(ec.Principal.Groups, ",")
	blob["env.time"] = ec.RequestTime.UTC().Format("2006-01-02T15:04:05Z07:00")
	blob["env.business_hours"] = strconv.FormatBool(ec.WithinBusinessHours)
	blob["env.internal_network"] = strconv.FormatBool(ec.InternalNetwork)
	for k, v := range ec.Attributes {
		blob["attr."+k] = flattenValue(v)
	}
	for k, v := range ec.ResourceAttributes {
		blob["resource."+k] = flattenValue(v)
	}
	return blob
}

func flattenValue(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case bool:
		return strconv.FormatBool(vv)
	case int:
		return strconv.Itoa(vv)
	case int64:
		return strconv.FormatInt(vv, 10)
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
