package core

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DateLayout is the stored calendar date format.
	DateLayout = "2006-01-02"
	// TimestampLayout is fixed width so string order equals time order.
	TimestampLayout = "2006-01-02T15:04:05.000Z"

	// MaxDescriptionLength counts characters, not bytes.
	MaxDescriptionLength = 200
)

// SortOrder selects how List orders records.
type SortOrder string

const (
	SortCreatedDesc SortOrder = ""
	SortDateDesc    SortOrder = "date_desc"
)

type (
	// Expense is the persisted form of a record. Amount is in minor units.
	Expense struct {
		ID          string `json:"id"`
		Amount      int64  `json:"amount"`
		Category    string `json:"category"`
		Description string `json:"description"`
		Date        string `json:"date"`
		CreatedAt   string `json:"created_at"`
	}

	// ExpenseView is the read-path form of a record with a major-unit amount.
	ExpenseView struct {
		ID          string `json:"id"`
		Amount      Money  `json:"amount"`
		Category    string `json:"category"`
		Description string `json:"description"`
		Date        string `json:"date"`
		CreatedAt   string `json:"created_at"`
	}

	// NewExpense carries already validated caller input for a create.
	NewExpense struct {
		Amount      Money
		Category    string
		Description string
		Date        string
	}

	// ListOptions filters and orders a listing.
	ListOptions struct {
		Category string
		Sort     SortOrder
	}

	// ExpenseList is a listing with its aggregate.
	ExpenseList struct {
		Expenses []ExpenseView `json:"expenses"`
		Total    Total         `json:"total"`
		Count    int           `json:"count"`
	}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidDate        = errors.New("invalid date")
	ErrEmptyDescription   = errors.New("empty description")
	ErrEmptyCategory      = errors.New("empty category")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
)

// View converts the stored record to its read form.
func (e Expense) View() ExpenseView {
	return ExpenseView{
		ID:          e.ID,
		Amount:      Money{Cents: e.Amount},
		Category:    e.Category,
		Description: e.Description,
		Date:        e.Date,
		CreatedAt:   e.CreatedAt,
	}
}

// Validate checks caller input. The record store itself never validates.
func (n NewExpense) Validate() error {
	if err := n.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(n.Category) == "" {
		return ErrEmptyCategory
	}
	desc := strings.TrimSpace(n.Description)
	if desc == "" {
		return ErrEmptyDescription
	}
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	if _, err := time.Parse(DateLayout, n.Date); err != nil {
		return ErrInvalidDate
	}
	return nil
}

// ParseSortOrder maps a query value to a SortOrder. Anything unrecognised
// means the default created_at ordering.
func ParseSortOrder(s string) SortOrder {
	if strings.TrimSpace(s) == string(SortDateDesc) {
		return SortDateDesc
	}
	return SortCreatedDesc
}

// NormalizeDate accepts YYYY-MM-DD or an RFC 3339 instant and returns the
// UTC calendar date in YYYY-MM-DD form.
func NormalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.Format(DateLayout), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC().Format(DateLayout), nil
	}
	return "", ErrInvalidDate
}

// FormatTimestamp renders t in the stored timestamp layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a stored timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}
