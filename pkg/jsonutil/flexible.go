package jsonutil

import (
	"encoding/json"
	"strconv"
)

// StrictString returns the value of a JSON string literal. ok is false for
// numbers, booleans, objects, arrays and null.
func StrictString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// FlexibleStringValue converts a json.RawMessage to a string, handling cases where
// LLMs return numbers or booleans instead of strings (phone numbers are the usual
// offender). Returns empty string for null, empty input, objects and arrays.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	if s, ok := StrictString(raw); ok {
		return s
	}

	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		if i, err := num.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return num.String()
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}

	return ""
}

// FirstNumber returns the first key in keys whose value is a JSON number
// (or a numeric string). Missing keys and null values are skipped.
func FirstNumber(obj map[string]json.RawMessage, keys ...string) (float64, bool) {
	for _, k := range keys {
		raw, ok := obj[k]
		if !ok || len(raw) == 0 || string(raw) == "null" {
			continue
		}
		if f, ok := Number(raw); ok {
			return f, true
		}
	}
	return 0, false
}

// Number decodes a JSON number or a string holding a number.
func Number(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	if s, ok := StrictString(raw); ok && s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
