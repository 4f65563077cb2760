// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data.
// Create requests arrive as JSON or form bodies; both go through the same
// RequestBodyParser so validation is shared.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"expenses/internal/core"
)

// maxBodyBytes bounds create request bodies.
const maxBodyBytes = 64 << 10

// Fields every create request must carry.
var requiredFields = []string{"amount", "category", "description", "date"}

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]interface{}
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once and stores it for subsequent parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}

	p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if p.err == nil && len(p.body) > maxBodyBytes {
		p.err = errors.New("request body too large")
	}
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	trimmed := bytes.TrimSpace(p.body)
	if len(trimmed) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if trimmed[0] == '{' || strings.HasPrefix(p.contentType, "application/json") {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		// Numbers stay as written so 0.1 does not pass through float64.
		dec.UseNumber()
		p.jsonData = make(map[string]interface{})
		if err := dec.Decode(&p.jsonData); err != nil {
			p.jsonData = nil
			p.err = err
			return err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(string(trimmed))
	return p.err
}

// Get returns a string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// stringValue converts a decoded JSON value to string.
func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// ParseNewExpense validates a create request body. On failure it returns
// the 400 response to send.
func ParseNewExpense(p *RequestBodyParser) (core.NewExpense, *JSONResponseBuilder) {
	if err := p.Parse(); err != nil {
		return core.NewExpense{}, BadRequestError("Invalid request body")
	}

	values := make(map[string]string, len(requiredFields))
	for _, f := range requiredFields {
		v := p.Get(f)
		if v == "" {
			return core.NewExpense{}, BadRequestError("Missing required fields").
				Field("required", requiredFields)
		}
		values[f] = v
	}

	amount, err := core.ParseAmount(values["amount"])
	if err != nil {
		return core.NewExpense{}, BadRequestError("Amount must be a positive number")
	}

	date, err := core.NormalizeDate(values["date"])
	if err != nil {
		return core.NewExpense{}, BadRequestError("Invalid date format. Use ISO 8601 format (YYYY-MM-DD)")
	}

	n := core.NewExpense{
		Amount:      amount,
		Category:    values["category"],
		Description: values["description"],
		Date:        date,
	}
	if err := n.Validate(); err != nil {
		return core.NewExpense{}, BadRequestError(validationMessage(err))
	}
	return n, nil
}

func validationMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrDescriptionTooLong):
		return "Description too long (max 200 characters)"
	case errors.Is(err, core.ErrInvalidAmount):
		return "Amount must be a positive number"
	case errors.Is(err, core.ErrInvalidDate):
		return "Invalid date format. Use ISO 8601 format (YYYY-MM-DD)"
	default:
		return "Missing required fields"
	}
}

// ParseListOptions reads the category filter and sort order from the query.
// Unknown sort values fall back to the default order.
func ParseListOptions(query url.Values) core.ListOptions {
	return core.ListOptions{
		Category: sanitizeInput(query.Get("category")),
		Sort:     core.ParseSortOrder(query.Get("sort")),
	}
}
