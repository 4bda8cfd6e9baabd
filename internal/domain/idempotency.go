package domain

import "time"

// IdempotencyRecord stores the outcome of a request sent with an
// Idempotency-Key header. Table idempotency_records.
type IdempotencyRecord struct {
	ID              int64 `gorm:"primaryKey"`
	Scope           string
	IdempotencyKey  string
	FingerprintHash string
	Status          string
	ResponseStatus  int
	ResponseBody    []byte
	ContentType     string
	ExpiresAt       time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (IdempotencyRecord) TableName() string {
	return "idempotency_records"
}
