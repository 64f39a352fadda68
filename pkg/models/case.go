package models

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Case statuses the core itself sets; the rest belong to the case system.
const (
	CaseStatusOpen  = "OPEN"
	CaseStatusFiled = "FILED"
)

// Case is the subject a claim is filed for. Case storage is owned elsewhere;
// this is the slice of it the core reads and advances.
type Case struct {
	ID          string         `json:"id"`
	Target      string         `json:"target"`
	Status      string         `json:"status"`
	ClaimNumber string         `json:"claim_number,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// FormData snapshots the case fields used to fill a claim form.
func (c *Case) FormData() map[string]any {
	data := CloneMap(c.Fields)
	data["case_id"] = c.ID
	data["target"] = c.Target

	return data
}

// StringID normalises an identifier taken from a loosely typed context: numbers
// decoded from JSON arrive as float64.
func StringID(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, v != ""
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10), true
		}

		return strconv.FormatFloat(v, 'f', -1, 64), true
	case fmt.Stringer:
		s := v.String()

		return s, s != ""
	default:
		s := fmt.Sprint(v)

		return s, s != ""
	}
}
