package observability

import (
	"testing"
	"time"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("arcadectl", "POST", "/units", 201, 12*time.Millisecond)
	RecordSubmission("accepted")
	SetUnitsActive(3)
	RecordUnitReaped()
	SetAdmissionInUse(2)
	RecordRegistration()
	RecordHeartbeat("ok")
	RecordRoomsSwept(2)
}
