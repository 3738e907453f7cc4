package storage

// EventSink adapts audit events into Hook State bookkeeping updates
// (spec §3 "Hook state"). It implements the same Log(event) contract as
// the Secure Audit Log so it can be fanned out to alongside the real
// audit writer and the metrics sink.
type EventSink struct {
	db  *DB
	log func(msg string, err error)
}

func NewEventSink(db *DB, errLog func(msg string, err error)) *EventSink {
	return &EventSink{db: db, log: errLog}
}

// Log persists "runtimeLoad" events as hook-state module entries and
// clears a PID's hook state once it is known to have vanished.
func (s *EventSink) Log(event map[string]any) {
	pid, ok := event["pid"].(int)
	if !ok {
		return
	}

	switch event["event_type"] {
	case "runtimeLoad":
		name, _ := event["module_name"].(string)
		if name == "" {
			return
		}
		if err := s.db.AppendModule(pid, name); err != nil && s.log != nil {
			s.log("hook-state append failed", err)
		}
	case "processRemoved":
		if err := s.db.DeleteHookState(pid); err != nil && s.log != nil {
			s.log("hook-state delete failed", err)
		}
	}
}
