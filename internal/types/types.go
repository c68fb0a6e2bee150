// Package types provides domain models shared across gears components.
//
// Event and Payload mirror the story tracker's webhook body. Story and Label
// mirror the tracker's search results. Calendar ticks reuse the same shapes so
// rules see one event model regardless of where an event came from.
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/solatis/gears/internal/calendar"
)

// Entity kinds produced outside the tracker's webhook vocabulary.
const (
	// EntityTime marks synthetic events produced by the calendar ticker.
	EntityTime = "time"

	// EntityStory is the tracker's entity kind for stories.
	EntityStory = "story"

	// ActionUpdate is the action kind used for synthetic calendar events.
	ActionUpdate = "update"
)

// Event is one atomic change notification dispatched to rules.
type Event struct {
	ID         int64              `json:"id"`
	EntityType string             `json:"entity_type"`
	Action     string             `json:"action"`
	Name       string             `json:"name,omitempty"`
	StoryType  string             `json:"story_type,omitempty"`
	AppURL     string             `json:"app_url,omitempty"`
	AuthorID   string             `json:"author_id,omitempty"`
	Changes    map[string]*Change `json:"changes,omitempty"`
}

// Changed reports whether the event carries a change for any of the fields.
func (e *Event) Changed(fields ...string) bool {
	for _, f := range fields {
		if _, ok := e.Changes[f]; ok {
			return true
		}
	}
	return false
}

// Change holds the before/after values of one field.
// Old and New are either primitives or, after reference resolution, full
// Reference objects. Presence is tracked separately from nil so that an
// explicit JSON null is distinguishable from an absent key.
type Change struct {
	Old     any
	New     any
	Adds    []any
	Removes []any

	hasOld bool
	hasNew bool
}

// NewChange returns a change with both sides present.
func NewChange(old, new any) *Change {
	return &Change{Old: old, New: new, hasOld: true, hasNew: true}
}

// ChangedTo returns a change with only the new side present.
func ChangedTo(new any) *Change {
	return &Change{New: new, hasNew: true}
}

// HasOld reports whether the old side was present.
func (c *Change) HasOld() bool { return c.hasOld }

// HasNew reports whether the new side was present.
func (c *Change) HasNew() bool { return c.hasNew }

// UnmarshalJSON implements json.Unmarshaler.
// Records which of old/new were present before decoding their values.
func (c *Change) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["old"]; ok {
		c.hasOld = true
		if err := json.Unmarshal(v, &c.Old); err != nil {
			return fmt.Errorf("old: %w", err)
		}
	}
	if v, ok := raw["new"]; ok {
		c.hasNew = true
		if err := json.Unmarshal(v, &c.New); err != nil {
			return fmt.Errorf("new: %w", err)
		}
	}
	if v, ok := raw["adds"]; ok {
		if err := json.Unmarshal(v, &c.Adds); err != nil {
			return fmt.Errorf("adds: %w", err)
		}
	}
	if v, ok := raw["removes"]; ok {
		if err := json.Unmarshal(v, &c.Removes); err != nil {
			return fmt.Errorf("removes: %w", err)
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
// Emits old/new only when present so round-trips keep absent vs null.
func (c Change) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 4)
	if c.hasOld {
		out["old"] = c.Old
	}
	if c.hasNew {
		out["new"] = c.New
	}
	if len(c.Adds) > 0 {
		out["adds"] = c.Adds
	}
	if len(c.Removes) > 0 {
		out["removes"] = c.Removes
	}
	return json.Marshal(out)
}

// Reference is a full entity accompanying a webhook delivery, keyed by "id".
type Reference map[string]any

// Key returns the canonical string form of the reference id.
func (r Reference) Key() (string, bool) {
	return refKey(r["id"])
}

// Payload is one delivery: a batch of events plus the entities they refer to.
// Calendar is set only for synthetic clock ticks.
type Payload struct {
	ID         string              `json:"id"`
	ChangedAt  time.Time           `json:"changed_at"`
	MemberID   string              `json:"member_id,omitempty"`
	Version    string              `json:"version,omitempty"`
	Actions    []Event             `json:"actions"`
	References []Reference         `json:"references"`
	Calendar   *calendar.Reference `json:"calendar,omitempty"`
}

// ParsePayload decodes a webhook body and normalises it for dispatch.
// Missing references become empty, authorless events inherit member_id and
// references are resolved into change values.
func ParsePayload(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.References == nil {
		p.References = []Reference{}
	}
	if p.ID == "" {
		p.ID = NewDeliveryID()
	}
	for i := range p.Actions {
		if p.Actions[i].AuthorID == "" {
			p.Actions[i].AuthorID = p.MemberID
		}
	}
	p.ResolveReferences()
	return &p, nil
}

// ResolveReferences replaces change values that name a reference id with the
// referenced object. A field is rewritten only when both old and new are
// present and both resolve; partial matches leave the field untouched.
func (p *Payload) ResolveReferences() {
	if len(p.References) == 0 {
		return
	}
	index := make(map[string]Reference, len(p.References))
	for _, ref := range p.References {
		if key, ok := ref.Key(); ok {
			if _, dup := index[key]; !dup {
				index[key] = ref
			}
		}
	}

	for i := range p.Actions {
		for _, ch := range p.Actions[i].Changes {
			if ch == nil || !ch.hasOld || !ch.hasNew {
				continue
			}
			newKey, okNew := refKey(ch.New)
			oldKey, okOld := refKey(ch.Old)
			if !okNew || !okOld {
				continue
			}
			newRef, foundNew := index[newKey]
			oldRef, foundOld := index[oldKey]
			if foundNew && foundOld {
				ch.New = newRef
				ch.Old = oldRef
			}
		}
	}
}

// Reference returns the reference whose id matches id, compared canonically.
func (p *Payload) Reference(id any) (Reference, bool) {
	want, ok := refKey(id)
	if !ok {
		return nil, false
	}
	for _, ref := range p.References {
		if key, ok := ref.Key(); ok && key == want {
			return ref, true
		}
	}
	return nil, false
}

// NewTimePayload builds the single synthetic event for a calendar tick.
func NewTimePayload(at time.Time, changes calendar.ChangeSet, ref calendar.Reference) *Payload {
	ev := Event{
		EntityType: EntityTime,
		Action:     ActionUpdate,
		Name:       at.Format(time.RFC3339),
		Changes:    make(map[string]*Change, len(changes)),
	}
	for field, value := range changes {
		ev.Changes[string(field)] = ChangedTo(value)
	}
	return &Payload{
		ID:         NewDeliveryID(),
		ChangedAt:  at,
		Actions:    []Event{ev},
		References: []Reference{},
		Calendar:   &ref,
	}
}

// refKey canonicalises an id for comparison. Numbers decoded from JSON arrive
// as float64; integral values compare equal to their string form.
func refKey(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, true
	case float64:
		if id != float64(int64(id)) {
			return strconv.FormatFloat(id, 'g', -1, 64), true
		}
		return strconv.FormatInt(int64(id), 10), true
	case json.Number:
		return id.String(), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	default:
		return "", false
	}
}
