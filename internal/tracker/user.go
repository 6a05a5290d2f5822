package tracker

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the wire format for exercise dates (calendar dates,
// no time-of-day component).
const DateLayout = "2006-01-02"

// Date is a calendar date. It normalizes to midnight UTC so that two
// Dates for the same day always compare equal.
type Date struct {
	time.Time
}

func NewDate(t time.Time) Date {
	return Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

func ParseDate(value string) (Date, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return Date{}, fmt.Errorf("parse date [%s]: %w", value, err)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(DateLayout))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	parsed, err := ParseDate(value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Exercise is a single logged activity. It lives embedded in exactly
// one User and is never changed or removed once added. Description and
// duration are stored as given, without validation.
type Exercise struct {
	Description string `json:"description"`
	Duration    int    `json:"duration"`
	Date        Date   `json:"date"`
}

type User struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Exercises []Exercise `json:"exercises"`
}

// UserInfo is the {id, username} projection used by user listings.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
