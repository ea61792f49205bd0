package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Kind tells whether a record subtracts from (Expense) or adds to (Income)
// the balance. Stored amounts are always non-negative.
type Kind int

const (
	Expense Kind = 0
	Income  Kind = 1
)

// Display layouts used when a record is saved. The date label doubles as
// the grouping key of the display list.
const (
	DisplayDateLayout = "Jan 2, Mon"
	DisplayTimeLayout = "15:04"
)

const maxNoteLength = 200

var (
	ErrInvalidKind     = errors.New("invalid kind")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrAmountTooLarge  = errors.New("amount exceeds 999,999,999.99")
	ErrZeroTimestamp   = errors.New("timestamp cannot be zero")
	ErrEmptyCategory   = errors.New("empty category")
	ErrNoteTooLong     = errors.New("note too long (max 200 characters)")
	ErrInvalidOwner    = errors.New("invalid owner")
	ErrTimestampChange = errors.New("timestamp cannot change after creation")
)

// IsValidation reports whether err stems from invalid caller input.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidKind, ErrInvalidAmount, ErrAmountTooLarge, ErrZeroTimestamp,
		ErrEmptyCategory, ErrNoteTooLong, ErrInvalidOwner, ErrTimestampChange,
		ErrInvalidMode, ErrInvalidYear, ErrInvalidMonth,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (k Kind) String() string {
	switch k {
	case Expense:
		return "expense"
	case Income:
		return "income"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid reports whether k is Expense or Income.
func (k Kind) Valid() bool { return k == Expense || k == Income }

// Opposite flips Expense and Income.
func (k Kind) Opposite() Kind {
	if k == Income {
		return Expense
	}
	return Income
}

// ParseKind accepts "expense"/"income" (case-insensitive) or "0"/"1".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "expense", "0":
		return Expense, nil
	case "income", "1":
		return Income, nil
	}
	return Expense, fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, ErrInvalidKind
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Record is one saved financial transaction. Edits replace the whole record.
type Record struct {
	ID            int64     `json:"id"`
	OwnerID       int64     `json:"owner_id"`
	Kind          Kind      `json:"kind"`
	Amount        string    `json:"amount"`
	CategoryID    int       `json:"category_id"`
	CategoryName  string    `json:"category_name"`
	CategoryGroup string    `json:"category_group"`
	CategoryIcon  string    `json:"category_icon"`
	AccountID     int       `json:"account_id"`
	AccountName   string    `json:"account_name"`
	Timestamp     time.Time `json:"timestamp"`
	DisplayDate   string    `json:"display_date"`
	DisplayTime   string    `json:"display_time"`
	Note          string    `json:"note"`
	Attachments   []string  `json:"attachments"`
}

// IsNew reports whether the record has not been persisted yet.
func (r Record) IsNew() bool { return r.ID == 0 }

// Money returns the parsed amount; a malformed amount counts as zero.
func (r Record) Money() Money { return ParseMoney(r.Amount) }

// Signed returns the amount negated for expenses.
func (r Record) Signed() Money {
	if r.Kind == Expense {
		return r.Money().Neg()
	}
	return r.Money()
}

// StampDisplay derives DisplayDate and DisplayTime from the timestamp.
func (r *Record) StampDisplay(loc *time.Location) {
	t := r.Timestamp.In(loc)
	r.DisplayDate = t.Format(DisplayDateLayout)
	r.DisplayTime = t.Format(DisplayTimeLayout)
}

func (r Record) Validate() error {
	if r.OwnerID <= 0 {
		return ErrInvalidOwner
	}
	if !r.Kind.Valid() {
		return ErrInvalidKind
	}
	m, ok := TryParseMoney(r.Amount)
	if !ok || m.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if m.Cmp(Money{d: moneyBoundary}) >= 0 {
		return ErrAmountTooLarge
	}
	if r.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	if strings.TrimSpace(r.CategoryName) == "" {
		return ErrEmptyCategory
	}
	if len([]rune(r.Note)) > maxNoteLength {
		return ErrNoteTooLong
	}
	return nil
}

// Equal compares every field. Nil and empty attachment lists are equal.
func (r Record) Equal(o Record) bool {
	return r.ID == o.ID &&
		r.OwnerID == o.OwnerID &&
		r.Kind == o.Kind &&
		r.Amount == o.Amount &&
		r.CategoryID == o.CategoryID &&
		r.CategoryName == o.CategoryName &&
		r.CategoryGroup == o.CategoryGroup &&
		r.CategoryIcon == o.CategoryIcon &&
		r.AccountID == o.AccountID &&
		r.AccountName == o.AccountName &&
		r.Timestamp.Equal(o.Timestamp) &&
		r.DisplayDate == o.DisplayDate &&
		r.DisplayTime == o.DisplayTime &&
		r.Note == o.Note &&
		slices.Equal(r.Attachments, o.Attachments)
}

// Clone returns a copy that shares no slices with r.
func (r Record) Clone() Record {
	c := r
	if r.Attachments != nil {
		c.Attachments = slices.Clone(r.Attachments)
	}
	return c
}
