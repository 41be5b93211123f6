package history

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB represents a PostgreSQL jsonb column.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(bytes, j)
}

// WorkflowRecord is one persisted workflow run, idempotent by workflow_id.
type WorkflowRecord struct {
	ID              uuid.UUID  `db:"id"`
	WorkflowID      string     `db:"workflow_id"`
	Name            string     `db:"name"`
	WorkflowType    string     `db:"workflow_type"`
	Requester       string     `db:"requester"`
	Target          string     `db:"target"`
	Status          string     `db:"status"`
	StartedAt       *time.Time `db:"started_at"`
	CompletedAt     *time.Time `db:"completed_at"`
	StepsTotal      int        `db:"steps_total"`
	StepResults     JSONB      `db:"step_results"`
	Metadata        JSONB      `db:"metadata"`
	DurationMinutes int        `db:"duration_minutes"`
	CreatedAt       time.Time  `db:"created_at"`
}
