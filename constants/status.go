package constants

// JobStatus is the canonical status for rows in extraction_jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusPending    JobStatus = "PENDING"    // created, not yet leased
	JobStatusProcessing JobStatus = "PROCESSING" // lease held, batches running
	JobStatusCompleted  JobStatus = "COMPLETED"  // terminal success
	JobStatusFailed     JobStatus = "FAILED"     // terminal failure
)

// ExtractionStatus tags the quality of one extracted record.
type ExtractionStatus string

const (
	ExtractionSuccess ExtractionStatus = "SUCCESS"
	ExtractionPartial ExtractionStatus = "PARTIAL"
	ExtractionFailed  ExtractionStatus = "FAILED"
)
