package testuploads

import "time"

// Config holds configuration for the upload test.
type Config struct {
	BaseURL    string        // Base URL of the service
	Encounters int           // Number of encounters to simulate
	Uploaders  int           // Players uploading each encounter, 1 to 4
	Workers    int           // Concurrent uploads in flight
	Timeout    time.Duration // HTTP request timeout
	Settle     time.Duration // Maximum wait for summaries to finalize
	SigningKey string        // Key used to mint bearer tokens
	Verbose    bool          // Enable verbose logging
}

// Encounter is one simulated fight and the uploads its players send.
type Encounter struct {
	Players []string
	Uploads []Upload
}

// Upload is a single client submission.
type Upload struct {
	Identity string
	Body     []byte
}

// Result is the outcome of one upload.
type Result struct {
	Encounter int
	Identity  string
	Status    int
	RecordID  string
	Outcome   string
}

// Stats holds test statistics.
type Stats struct {
	UploadsSubmitted int
	Created          int
	Merged           int
	Failed           int
	Finalized        int
	Mismatched       int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}
