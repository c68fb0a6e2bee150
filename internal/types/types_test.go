package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/solatis/gears/internal/calendar"
)

func TestParsePayload_ResolvesReferences(t *testing.T) {
	body := []byte(`{
		"id": "595285dc-9c43-4b9c-a1e6-0cd9aff5b084",
		"member_id": "56d8a839-1c52-437f-b981-c3a15a11d6d4",
		"actions": [{
			"id": 42,
			"entity_type": "story",
			"action": "update",
			"name": "Ship it",
			"changes": {
				"workflow_state_id": {"old": 500, "new": 501},
				"owner_ids": {"adds": ["m-1"]}
			}
		}],
		"references": [
			{"id": 500, "entity_type": "workflow-state", "name": "Unstarted"},
			{"id": 501, "entity_type": "workflow-state", "name": "Started"}
		]
	}`)

	p, err := ParsePayload(body)
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}

	ch := p.Actions[0].Changes["workflow_state_id"]
	newRef, ok := ch.New.(Reference)
	if !ok {
		t.Fatalf("New = %T, want Reference", ch.New)
	}
	oldRef, ok := ch.Old.(Reference)
	if !ok {
		t.Fatalf("Old = %T, want Reference", ch.Old)
	}
	if newRef["name"] != "Started" || oldRef["name"] != "Unstarted" {
		t.Errorf("resolved new=%v old=%v", newRef["name"], oldRef["name"])
	}

	if got := p.Actions[0].AuthorID; got != "56d8a839-1c52-437f-b981-c3a15a11d6d4" {
		t.Errorf("AuthorID = %q, want member_id", got)
	}
	if adds := p.Actions[0].Changes["owner_ids"].Adds; len(adds) != 1 || adds[0] != "m-1" {
		t.Errorf("Adds = %v, want [m-1]", adds)
	}
}

func TestResolveReferences_PartialMatchUnresolved(t *testing.T) {
	body := []byte(`{
		"actions": [{
			"id": 1,
			"entity_type": "story",
			"action": "update",
			"changes": {"epic_id": {"old": 7, "new": 8}}
		}],
		"references": [{"id": 8, "name": "Only new"}]
	}`)

	p, err := ParsePayload(body)
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}

	ch := p.Actions[0].Changes["epic_id"]
	if ch.Old != float64(7) || ch.New != float64(8) {
		t.Errorf("partial match rewritten: old=%v new=%v", ch.Old, ch.New)
	}
}

func TestResolveReferences_RequiresBothSides(t *testing.T) {
	p := &Payload{
		Actions: []Event{{
			Changes: map[string]*Change{
				"only_new": ChangedTo("a"),
				"null_old": NewChange(nil, "a"),
				"strings":  NewChange("a", "b"),
			},
		}},
		References: []Reference{{"id": "a"}, {"id": "b"}},
	}

	p.ResolveReferences()

	changes := p.Actions[0].Changes
	if _, ok := changes["only_new"].New.(Reference); ok {
		t.Error("change without old side should not resolve")
	}
	if _, ok := changes["null_old"].New.(Reference); ok {
		t.Error("change with null old side should not resolve")
	}
	if _, ok := changes["strings"].New.(Reference); !ok {
		t.Error("string ids should resolve")
	}
}

func TestParsePayload_Defaults(t *testing.T) {
	p, err := ParsePayload([]byte(`{"actions": []}`))
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if p.References == nil {
		t.Error("References should default to empty slice")
	}
	if DeliveryIDTime(p.ID).IsZero() {
		t.Errorf("generated ID %q should be a UUIDv7", p.ID)
	}
}

func TestParseDeliveryID(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"canonical", "0190b8e4-0000-7000-8000-000000000001", "0190b8e4-0000-7000-8000-000000000001", false},
		{"uppercase", "0190B8E4-0000-7000-8000-00000000000A", "0190b8e4-0000-7000-8000-00000000000a", false},
		{"garbage", "not-a-delivery", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDeliveryID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDeliveryID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDeliveryID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParsePayload_Malformed(t *testing.T) {
	_, err := ParsePayload([]byte(`{"actions": [`))
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("error = %v, want ErrMalformedPayload", err)
	}
}

func TestChange_PresenceSurvivesRoundTrip(t *testing.T) {
	var ch Change
	if err := json.Unmarshal([]byte(`{"old": null, "new": 3}`), &ch); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !ch.HasOld() || !ch.HasNew() {
		t.Fatalf("HasOld=%v HasNew=%v, want both", ch.HasOld(), ch.HasNew())
	}

	out, err := json.Marshal(ChangedTo(5))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != `{"new":5}` {
		t.Errorf("Marshal() = %s, want {\"new\":5}", out)
	}
}

func TestNewTimePayload(t *testing.T) {
	instant := time.Date(2021, time.March, 15, 0, 0, 0, 0, time.UTC)
	changes, ref := calendar.Generate(instant)

	p := NewTimePayload(instant, changes, ref)
	if len(p.Actions) != 1 {
		t.Fatalf("len(Actions) = %d, want 1", len(p.Actions))
	}
	ev := p.Actions[0]
	if ev.EntityType != EntityTime {
		t.Errorf("EntityType = %q, want %q", ev.EntityType, EntityTime)
	}
	if got := ev.Changes["week"]; got == nil || got.New != 11 {
		t.Errorf("week change = %+v, want new=11", got)
	}
	if ev.Changed("month") {
		t.Error("mid-month tick should not change month")
	}
	if p.Calendar == nil || p.Calendar.Week != 11 {
		t.Errorf("Calendar = %+v, want week 11", p.Calendar)
	}
}

func TestStory_HasLabel(t *testing.T) {
	s := Story{Labels: []Label{{ID: 1, Name: "gears"}}}
	if !s.HasLabel("gears") {
		t.Error("HasLabel(gears) = false, want true")
	}
	if s.HasLabel("other") {
		t.Error("HasLabel(other) = true, want false")
	}
}

func TestPayloadReference(t *testing.T) {
	p := &Payload{References: []Reference{{"id": float64(12), "name": "gears"}, {"id": "abc"}}}

	if ref, ok := p.Reference(int64(12)); !ok || ref["name"] != "gears" {
		t.Errorf("Reference(12) = %v, %v", ref, ok)
	}
	if _, ok := p.Reference("abc"); !ok {
		t.Error("Reference(abc) not found")
	}
	if _, ok := p.Reference(13); ok {
		t.Error("Reference(13) found, want missing")
	}
	if _, ok := p.Reference([]int{1}); ok {
		t.Error("Reference of unsupported id type found")
	}
}
