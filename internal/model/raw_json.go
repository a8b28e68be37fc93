package model

import (
	"database/sql/driver"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// RawJSON is a JSON document stored as text, so the bytes read back are the
// bytes written. MySQL and Postgres JSON columns rewrite the document.
type RawJSON []byte

// Value implements driver.Valuer
func (j RawJSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner
func (j *RawJSON) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append(RawJSON(nil), v...)
	case string:
		*j = RawJSON(v)
	default:
		return fmt.Errorf("failed to scan RawJSON from %T", value)
	}
	return nil
}

// MarshalJSON emits the stored document unchanged
func (j RawJSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON keeps a copy of the document
func (j *RawJSON) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}

// GormDataType gorm common data type
func (RawJSON) GormDataType() string {
	return "text"
}

// GormDBDataType picks a text column large enough for a full payload
func (RawJSON) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql":
		return "MEDIUMTEXT"
	default:
		return "TEXT"
	}
}
