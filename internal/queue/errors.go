package queue

import "montage/internal/services"

// FailureStatus maps a run error to the status the run loop should persist
// after a storyboard fails.
//
// Transient failures land on StatusFailed and stay eligible for retry. Input
// and fatal errors (bad manifest fields, rejected credentials, broken
// configuration) land on StatusReview because rerunning cannot fix them.
func FailureStatus(err error) Status {
	switch services.FailureKind(err) {
	case services.KindInput, services.KindFatal:
		return StatusReview
	default:
		return StatusFailed
	}
}
