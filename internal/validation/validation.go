// Package validation holds input rules shared by services and handlers.
package validation

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 128
	maxEmailLen    = 254
	maxNameLen     = 100
	maxCTATextLen  = 40
)

var otpRegex = regexp.MustCompile(`^[0-9]{6}$`)

// ValidatePassword requires 8-128 characters with a letter and a digit.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < minPasswordLen || n > maxPasswordLen {
		return fmt.Errorf("password must be between %d and %d characters", minPasswordLen, maxPasswordLen)
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return errors.New("password must contain at least one letter and one digit")
	}
	return nil
}

// ValidateEmail accepts a bare RFC 5322 address of at most 254 characters.
func ValidateEmail(email string) error {
	if email == "" || len(email) > maxEmailLen {
		return errors.New("email is required and must be at most 254 characters")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return errors.New("invalid email address")
	}
	at := strings.LastIndex(email, "@")
	domain := email[at+1:]
	if !strings.Contains(domain, ".") || strings.HasSuffix(domain, ".") {
		return errors.New("invalid email domain")
	}
	return nil
}

// ValidateName requires a non-blank display name.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return fmt.Errorf("name must be at most %d characters", maxNameLen)
	}
	return nil
}

// ValidateOTP requires a six-digit code.
func ValidateOTP(code string) error {
	if !otpRegex.MatchString(code) {
		return errors.New("code must be 6 digits")
	}
	return nil
}

// ValidateCaption limits a caption to max characters.
func ValidateCaption(caption string, max int) error {
	if utf8.RuneCountInString(caption) > max {
		return fmt.Errorf("caption must be at most %d characters", max)
	}
	return nil
}

// ValidateCTA checks a call-to-action: short text and a relative or http(s) link.
func ValidateCTA(text, link string) error {
	if strings.TrimSpace(text) == "" || strings.TrimSpace(link) == "" {
		return errors.New("call-to-action needs both text and link")
	}
	if utf8.RuneCountInString(text) > maxCTATextLen {
		return fmt.Errorf("call-to-action text must be at most %d characters", maxCTATextLen)
	}
	if strings.HasPrefix(link, "/") && !strings.HasPrefix(link, "//") {
		return nil
	}
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("call-to-action link must be a relative path or an http(s) URL")
	}
	return nil
}
