// Package redact masks personal data before it reaches logs.
package redact

import "strings"

// Phone keeps the country prefix and the last two digits: "+15550001234" -> "+15*******34".
func Phone(phone string) string {
	phone = strings.TrimSpace(phone)
	n := len(phone)
	if n == 0 {
		return ""
	}
	if n <= 4 {
		return strings.Repeat("*", n)
	}
	head := 2
	if phone[0] == '+' {
		head = 3
	}
	if n-head-2 <= 0 {
		head = 1
	}
	return phone[:head] + strings.Repeat("*", n-head-2) + phone[n-2:]
}

// Secret hides everything but a short prefix, for correlating log lines.
func Secret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}
