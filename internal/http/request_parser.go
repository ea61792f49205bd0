package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"registro/internal/core"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

// RecordRequest is the body of record create and edit calls. Amount is a
// decimal string; Timestamp may be omitted for new records.
type RecordRequest struct {
	Kind         string    `json:"kind"`
	Amount       string    `json:"amount"`
	CategoryID   int       `json:"category_id"`
	CategoryName string    `json:"category_name"`
	AccountID    int       `json:"account_id"`
	Note         string    `json:"note"`
	Timestamp    time.Time `json:"timestamp"`
	Attachments  []string  `json:"attachments"`
}

// Record converts the request into a record owned by ownerID.
func (req RecordRequest) Record(ownerID, id int64) (core.Record, error) {
	kind, err := core.ParseKind(req.Kind)
	if err != nil {
		return core.Record{}, err
	}
	return core.Record{
		ID:           id,
		OwnerID:      ownerID,
		Kind:         kind,
		Amount:       strings.TrimSpace(req.Amount),
		CategoryID:   req.CategoryID,
		CategoryName: sanitizeInput(req.CategoryName),
		AccountID:    req.AccountID,
		Note:         sanitizeInput(req.Note),
		Timestamp:    req.Timestamp,
		Attachments:  req.Attachments,
	}, nil
}

// WindowRequest selects a window: {"mode":"month","year":2024,"month":5}.
type WindowRequest struct {
	Mode  string `json:"mode"`
	Year  int    `json:"year"`
	Month int    `json:"month"`
}

// Window builds and validates the requested window.
func (req WindowRequest) Window() (core.Window, error) {
	mode, err := core.ParseMode(req.Mode)
	if err != nil {
		return core.Window{}, err
	}
	w := core.NewWindow(mode, req.Year, req.Month)
	if err := w.Validate(); err != nil {
		return core.Window{}, err
	}
	return w, nil
}

type KindRequest struct {
	Kind string `json:"kind"`
}

// CalcRequest starts the keypad from Expression and then presses Keys in
// order; "<" is backspace and "C" clears.
type CalcRequest struct {
	Expression string `json:"expression"`
	Keys       string `json:"keys,omitempty"`
}

// decodeJSON reads a single JSON object from the request body, rejecting
// unknown fields and trailing data.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON body: trailing data")
	}
	return nil
}

// pathID parses the {id} path value.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record id %q", r.PathValue("id"))
	}
	return id, nil
}

// parseMode reads ?mode=, defaulting to month.
func parseMode(query url.Values) (core.Mode, error) {
	return core.ParseMode(query.Get("mode"))
}

// sanitizeInput removes control characters other than tab and newlines and
// trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}
