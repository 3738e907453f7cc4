package storage

import "testing"

func TestEventSink_RuntimeLoadAppendsModule(t *testing.T) {
	db := openTestDB(t)
	sink := NewEventSink(db, nil)

	sink.Log(map[string]any{
		"event_type":  "runtimeLoad",
		"pid":         42,
		"module_name": "evil.dll",
	})

	rec, err := db.GetHookState(42)
	if err != nil {
		t.Fatalf("GetHookState: %v", err)
	}
	if rec == nil || len(rec.Modules) != 1 || rec.Modules[0] != "evil.dll" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestEventSink_ProcessRemovedDeletesHookState(t *testing.T) {
	db := openTestDB(t)
	sink := NewEventSink(db, nil)

	if err := db.PutHookState(7, []string{"a.dll"}); err != nil {
		t.Fatalf("PutHookState: %v", err)
	}

	sink.Log(map[string]any{
		"event_type": "processRemoved",
		"pid":        7,
	})

	rec, err := db.GetHookState(7)
	if err != nil {
		t.Fatalf("GetHookState: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected hook state to be removed, got %+v", rec)
	}
}

func TestEventSink_IgnoresEventsMissingPID(t *testing.T) {
	db := openTestDB(t)
	sink := NewEventSink(db, nil)

	// Must not panic when "pid" is absent or the wrong type.
	sink.Log(map[string]any{"event_type": "runtimeLoad", "module_name": "x.dll"})
	sink.Log(map[string]any{"event_type": "runtimeLoad", "pid": "not-an-int", "module_name": "x.dll"})

	recs, err := db.ListHookStates()
	if err != nil {
		t.Fatalf("ListHookStates: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no records, got %v", recs)
	}
}

func TestEventSink_UnknownEventTypeIgnored(t *testing.T) {
	db := openTestDB(t)
	sink := NewEventSink(db, nil)

	sink.Log(map[string]any{"event_type": "processIndicators", "pid": 1})

	recs, err := db.ListHookStates()
	if err != nil {
		t.Fatalf("ListHookStates: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no records for an unrelated event type, got %v", recs)
	}
}
