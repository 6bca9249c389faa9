package workflows

import "testing"

func intPtr(v int) *int { return &v }

func TestTriggerConfigMatches(t *testing.T) {
	cases := []struct {
		name string
		cfg  TriggerConfig
		ev   Event
		want bool
	}{
		{"empty config matches", TriggerConfig{}, Event{Status: "interested"}, true},
		{"status equality", TriggerConfig{Status: "booked"}, Event{Status: "booked"}, true},
		{"status case-insensitive", TriggerConfig{Status: "Booked"}, Event{Status: "booked"}, true},
		{"status mismatch", TriggerConfig{Status: "booked"}, Event{Status: "interested"}, false},
		{"from status", TriggerConfig{FromStatus: "new", Status: "interested"}, Event{PreviousStatus: "new", Status: "interested"}, true},
		{"from status mismatch", TriggerConfig{FromStatus: "call_back"}, Event{PreviousStatus: "new"}, false},
		{"threshold crossed", TriggerConfig{Threshold: intPtr(80)}, Event{Score: 90, PreviousScore: intPtr(50)}, true},
		{"threshold exact", TriggerConfig{Threshold: intPtr(80)}, Event{Score: 80, PreviousScore: intPtr(79)}, true},
		{"already above threshold", TriggerConfig{Threshold: intPtr(80)}, Event{Score: 95, PreviousScore: intPtr(85)}, false},
		{"below threshold", TriggerConfig{Threshold: intPtr(80)}, Event{Score: 70, PreviousScore: intPtr(50)}, false},
		{"no previous score", TriggerConfig{Threshold: intPtr(80)}, Event{Score: 80}, true},
		{"direction", TriggerConfig{Direction: "inbound"}, Event{Direction: "outbound"}, false},
	}
	for _, tc := range cases {
		if got := tc.cfg.Matches(tc.ev); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestActionValidate(t *testing.T) {
	valid := []Action{
		{Type: ActionUpdateLeadStatus, Status: "booked"},
		{Type: ActionAddLeadTag, Tag: "hot"},
		{Type: ActionSendEmail, Subject: "New lead"},
		{Type: ActionNotifyWebhook, URL: "https://hooks.example.com/x"},
	}
	for _, a := range valid {
		if err := a.Validate(); err != nil {
			t.Fatalf("%s: unexpected error %v", a.Type, err)
		}
	}
	invalid := []Action{
		{Type: ActionUpdateLeadStatus},
		{Type: ActionAddLeadTag},
		{Type: ActionNotifyWebhook},
		{Type: "run_script"},
	}
	for _, a := range invalid {
		if err := a.Validate(); err == nil {
			t.Fatalf("%s: expected error", a.Type)
		}
	}
}
