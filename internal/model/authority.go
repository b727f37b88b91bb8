package model

import "database/sql"

// Authority is one row of the authorities table. The stored CRC is nullable;
// a missing value is kept as such and never defaulted to zero.
type Authority struct {
	ID   int64          `json:"id" db:"id"`
	Name sql.NullString `json:"name" db:"authority"`
	CRC  sql.NullInt64  `json:"crc" db:"crc"`
}

// Key returns the natural-language key the checksum is derived from.
// An absent name yields the empty key.
func (a *Authority) Key() string {
	return a.Name.String
}

// FormatCRC renders a stored CRC for audit output, "null" when absent
func FormatCRC(crc sql.NullInt64) string {
	if !crc.Valid {
		return "null"
	}
	return formatInt(crc.Int64)
}
