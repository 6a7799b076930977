// Package task defines the task data model: the task map, its distinguished
// properties, and typed accessors over the raw string-to-string storage.
//
// Every task is, on disk and on the wire, nothing more than a UUID and a
// map[string]string. This package is the only place that knows how to turn
// that map into typed values (status, timestamps, annotations, tags,
// dependencies) and back. Everything above this package — operations,
// TaskDB, Replica — manipulates the map through these accessors rather than
// touching string keys directly.
package task

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// UUID is a task's identity. Tasks are never reused once created.
type UUID = string

// Map is the wire and storage representation of a task: a flat
// string-to-string property bag. All typed access goes through Task, which
// wraps a Map.
type Map map[string]string

// Clone returns a deep copy of m.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Distinguished property names. UDAs (user-defined attributes) are any key
// not in this list and not matching the tag_/dep_/annotation_ prefixes.
const (
	PropStatus      = "status"
	PropDescription = "description"
	PropEntry       = "entry"
	PropModified    = "modified"
	PropStart       = "start"
	PropEnd         = "end"
	PropWait        = "wait"
	PropDue         = "due"
)

const (
	prefixTag        = "tag_"
	prefixDep        = "dep_"
	prefixAnnotation = "annotation_"
)

// Status is the lifecycle state of a task, stored as the string value of
// PropStatus.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusDeleted   Status = "deleted"
	StatusRecurring Status = "recurring"
	StatusUnknown   Status = "unknown"
)

// Task is a read-oriented view over a task's Map. It does not own storage;
// taskdb.DB and replica.Replica are responsible for persisting changes made
// through a mutator (see replica.TaskMut).
type Task struct {
	ID UUID
	m  Map
}

// New wraps an existing map for a given UUID. The map is not copied.
func New(id UUID, m Map) Task {
	if m == nil {
		m = Map{}
	}
	return Task{ID: id, m: m}
}

// Map returns the underlying property map. Callers that intend to mutate it
// should Clone first; Task itself treats it as read-only.
func (t Task) Map() Map { return t.m }

// Get returns a UDA or any raw property value.
func (t Task) Get(key string) (string, bool) {
	v, ok := t.m[key]
	return v, ok
}

// Status returns the task's status, or StatusUnknown if absent or
// unrecognized.
func (t Task) Status() Status {
	switch Status(t.m[PropStatus]) {
	case StatusPending, StatusCompleted, StatusDeleted, StatusRecurring:
		return Status(t.m[PropStatus])
	default:
		return StatusUnknown
	}
}

// Description returns the task's description, or "" if unset.
func (t Task) Description() string { return t.m[PropDescription] }

// Entry returns the task's creation timestamp.
func (t Task) Entry() (time.Time, bool) { return parseEpoch(t.m[PropEntry]) }

// Modified returns the last-modified timestamp.
func (t Task) Modified() (time.Time, bool) { return parseEpoch(t.m[PropModified]) }

// Wait returns the task's wait-until timestamp, if any.
func (t Task) Wait() (time.Time, bool) { return parseEpoch(t.m[PropWait]) }

// Due returns the task's due date, if any.
func (t Task) Due() (time.Time, bool) { return parseEpoch(t.m[PropDue]) }

// Tags returns the set of tag_<name> flags present on the task, sorted.
func (t Task) Tags() []string {
	var tags []string
	for k := range t.m {
		if name, ok := strings.CutPrefix(k, prefixTag); ok {
			tags = append(tags, name)
		}
	}
	sort.Strings(tags)
	return tags
}

// HasTag reports whether the task carries the given tag.
func (t Task) HasTag(name string) bool {
	_, ok := t.m[prefixTag+name]
	return ok
}

// Dependencies returns the UUIDs this task depends on, sorted, derived from
// dep_<uuid> flags.
func (t Task) Dependencies() []UUID {
	var deps []UUID
	for k := range t.m {
		if id, ok := strings.CutPrefix(k, prefixDep); ok {
			deps = append(deps, id)
		}
	}
	sort.Strings(deps)
	return deps
}

// Annotation is a timestamped free-text note attached to a task, stored as
// an annotation_<epoch> property.
type Annotation struct {
	Entry       time.Time
	Description string
}

// Annotations returns the task's annotations ordered by entry time.
func (t Task) Annotations() []Annotation {
	var anns []Annotation
	for k, v := range t.m {
		suffix, ok := strings.CutPrefix(k, prefixAnnotation)
		if !ok {
			continue
		}
		epoch, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			continue
		}
		anns = append(anns, Annotation{Entry: time.Unix(epoch, 0).UTC(), Description: v})
	}
	sort.Slice(anns, func(i, j int) bool { return anns[i].Entry.Before(anns[j].Entry) })
	return anns
}

// AnnotationKey returns the property key for an annotation entered at t.
func AnnotationKey(t time.Time) string {
	return fmt.Sprintf("%s%d", prefixAnnotation, t.Unix())
}

// TagKey returns the property key for a tag flag.
func TagKey(name string) string { return prefixTag + name }

// DepKey returns the property key for a dependency flag.
func DepKey(id UUID) string { return prefixDep + id }

// IsInternalKey reports whether key is one of the prefixed internal
// properties (tag/dep/annotation) rather than a plain distinguished
// property or UDA.
func IsInternalKey(key string) bool {
	return strings.HasPrefix(key, prefixTag) ||
		strings.HasPrefix(key, prefixDep) ||
		strings.HasPrefix(key, prefixAnnotation)
}

// FormatEpoch renders t as the string form stored in the task map.
func FormatEpoch(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func parseEpoch(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(n, 0).UTC(), true
}

// IsPending reports whether the task belongs in the working set.
func (t Task) IsPending() bool { return t.Status() == StatusPending }
