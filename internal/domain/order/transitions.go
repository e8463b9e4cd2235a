package order

import "github.com/labbox/labbox/internal/platform/notification"

// advanceTable maps a current status to the status an advance moves it to.
// Review is skippable, so both 0 and 1 advance to 2. Terminal and unknown
// statuses are absent.
var advanceTable = map[Status]Status{
	StatusRequested:       StatusConfirmed,
	StatusInReview:        StatusConfirmed,
	StatusConfirmed:       StatusSampleCollected,
	StatusSampleCollected: StatusInProgress,
	StatusInProgress:      StatusReportGenerated,
}

// NextStatus returns the destination of an advance from s.
func NextStatus(s Status) (Status, bool) {
	next, ok := advanceTable[s]
	return next, ok
}

// advanceTemplates keys the patient notification by destination status.
var advanceTemplates = map[Status]string{
	StatusConfirmed:       notification.TplOrderConfirmed,
	StatusSampleCollected: notification.TplSampleCollection,
	StatusInProgress:      notification.TplReportInProgress,
	StatusReportGenerated: notification.TplReportGenerated,
}

// rolePolicy is everything that differs between operator roles.
type rolePolicy struct {
	notifyPatient bool
}

var policies = map[Role]rolePolicy{
	RoleAdmin: {notifyPatient: true},
	RoleFlabo: {notifyPatient: false},
}

func policyFor(r Role) rolePolicy {
	return policies[r]
}
