package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"beanledger.org/internal/ledger"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var typeErr *ledger.InvalidAccountTypeError
	var unbalanced *ledger.UnbalancedError
	switch {
	case errors.As(err, &typeErr):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrDuplicateName):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.As(err, &unbalanced), errors.Is(err, ledger.ErrMultipleAutoBalance):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// parseDate parses a required YYYY-MM-DD value.
func parseDate(raw, field string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New(field + " is required")
	}
	t, err := time.Parse(ledger.DateLayout, raw)
	if err != nil {
		return time.Time{}, errors.New(field + " must be formatted as YYYY-MM-DD")
	}
	return t, nil
}

// parseDateDefault parses an optional YYYY-MM-DD value, falling back to def.
func parseDateDefault(raw string, def time.Time, field string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	return parseDate(raw, field)
}

// parseAmount parses a required decimal string.
func parseAmount(raw, field string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, errors.New(field + " is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.New(field + " must be a decimal number")
	}
	return d, nil
}

// parseOptionalAmount parses an optional decimal string into a pointer.
func parseOptionalAmount(raw, field string) (*decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	d, err := parseAmount(raw, field)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}

func normalizeCurrency(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
