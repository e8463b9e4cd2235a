package order

import "testing"

func TestNextStatus(t *testing.T) {
	tests := []struct {
		from   Status
		want   Status
		wantOK bool
	}{
		{StatusRequested, StatusConfirmed, true},
		{StatusInReview, StatusConfirmed, true},
		{StatusConfirmed, StatusSampleCollected, true},
		{StatusSampleCollected, StatusInProgress, true},
		{StatusInProgress, StatusReportGenerated, true},
		{StatusReportGenerated, 0, false},
		{StatusRejected, 0, false},
		{Status(9), 0, false},
		{Status(-1), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String(), func(t *testing.T) {
			got, ok := NextStatus(tt.from)
			if ok != tt.wantOK {
				t.Fatalf("NextStatus(%d) ok = %v, want %v", tt.from, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("NextStatus(%d) = %d, want %d", tt.from, got, tt.want)
			}
		})
	}
}

func TestNextStatus_NeverRegresses(t *testing.T) {
	for from, to := range advanceTable {
		if to <= from {
			t.Errorf("transition %d -> %d moves backwards", from, to)
		}
		if from.Terminal() {
			t.Errorf("terminal status %d has an outgoing transition", from)
		}
	}
}

func TestAdvanceTemplates_CoverEveryDestination(t *testing.T) {
	for _, to := range advanceTable {
		if advanceTemplates[to] == "" {
			t.Errorf("no notification template for destination %d", to)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	for s := StatusRequested; s <= StatusRejected; s++ {
		want := s == StatusReportGenerated || s == StatusRejected
		if s.Terminal() != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, s.Terminal(), want)
		}
	}
	if Status(7).Valid() {
		t.Error("status 7 should be invalid")
	}
	if Status(7).String() != "unknown" {
		t.Errorf("unexpected name %q", Status(7).String())
	}
}

func TestPolicyFor(t *testing.T) {
	if !policyFor(RoleAdmin).notifyPatient {
		t.Error("admin transitions should notify the patient")
	}
	if policyFor(RoleFlabo).notifyPatient {
		t.Error("phlebotomist transitions should not notify the patient")
	}
	if policyFor(Role("other")).notifyPatient {
		t.Error("unknown roles should not notify")
	}
}
