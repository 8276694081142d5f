package common

import "time"

// AccessRecord is one admission decision as written to the access log.
type AccessRecord struct {
	UID         string
	Zone        int32
	Fingerprint string
	Outcome     string
	Devices     uint8
	Timestamp   time.Time
}
