package email

import (
	"net/mail"
	"strings"
)

// Address is one parsed recipient or sender address.
type Address struct {
	Address string
	Name    string
}

// ParseAddress parses a single `addr[: Display Name]` entry. The empty
// Address return means the entry was empty or invalid.
func ParseAddress(s string) Address {
	addr, name, _ := strings.Cut(s, ":")
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" {
		return Address{}
	}
	if _, err := mail.ParseAddress(addr); err != nil {
		return Address{}
	}
	return Address{Address: addr, Name: strings.TrimSpace(name)}
}

// ParseAddressList parses a `;`-separated list of `addr[: Display Name]`
// entries, dropping empty and invalid ones.
func ParseAddressList(s string) []Address {
	var out []Address
	for _, part := range strings.Split(s, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		if a := ParseAddress(part); a.Address != "" {
			out = append(out, a)
		}
	}
	return out
}

// ValidateBare validates a single address with no display name, as
// required for Return-Path. Returns "" when invalid.
func ValidateBare(s string) string {
	addr := strings.ToLower(strings.TrimSpace(s))
	if addr == "" || strings.Contains(addr, ":") || strings.Contains(addr, " ") {
		return ""
	}
	if _, err := mail.ParseAddress(addr); err != nil {
		return ""
	}
	return addr
}
