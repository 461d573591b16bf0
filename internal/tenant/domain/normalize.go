package domain

import "strings"

// NormalizeDigits strips every non-digit character from address.
func NormalizeDigits(address string) string {
	var b strings.Builder
	b.Grow(len(address))
	for _, r := range address {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Candidates returns the lookup keys for digits with and without the home country code.
func Candidates(digits, homeCountryCode string) []string {
	if digits == "" {
		return nil
	}
	out := []string{digits}
	if homeCountryCode == "" {
		return out
	}
	if strings.HasPrefix(digits, homeCountryCode) && len(digits) > len(homeCountryCode) {
		out = append(out, strings.TrimPrefix(digits, homeCountryCode))
	} else {
		out = append(out, homeCountryCode+digits)
	}
	return out
}

// Canonical returns the stored form of a number: its digits with the home country code.
// An address written with a leading "+" already carries its country code.
func Canonical(address, homeCountryCode string) string {
	digits := NormalizeDigits(address)
	if digits == "" || homeCountryCode == "" {
		return digits
	}
	if strings.HasPrefix(strings.TrimSpace(address), "+") || strings.HasPrefix(digits, homeCountryCode) {
		return digits
	}
	return homeCountryCode + digits
}
