package model

import "time"

// ResultsExport is the top-level JSON structure for exam result export.
type ResultsExport struct {
	GeneratedAt    time.Time      `json:"generated_at"`
	Certifications []Certification `json:"certifications"`
	Attempts       []AttemptRecord `json:"attempts"`
}

// AttemptRecord holds one finished or abandoned attempt for export.
type AttemptRecord struct {
	AttemptID         int64         `json:"attempt_id"`
	Username          string        `json:"username"`
	DisplayName       string        `json:"display_name"`
	CertificationID   int64         `json:"certification_id"`
	AttemptNumber     int           `json:"attempt_number"`
	Status            AttemptStatus `json:"status"`
	StartedAt         time.Time     `json:"started_at"`
	FinishedAt        *time.Time    `json:"finished_at,omitempty"`
	Result            *Result       `json:"result,omitempty"`
	CertificateNumber string        `json:"certificate_number,omitempty"`
}
