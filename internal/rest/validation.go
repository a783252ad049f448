// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-konnektor.
//
// go-konnektor is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	// maxChallengeLength bounds a challenge handed in by the caller.
	maxChallengeLength = 16 << 10

	maxCardHandleLength = 255
)

// cardHandlePattern matches connector card handles.
var cardHandlePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\.:]+$`)

// ValidateCardHandle checks a card handle chosen by the caller.
func ValidateCardHandle(handle string) error {
	if handle == "" {
		return fmt.Errorf("card handle cannot be empty")
	}
	if len(handle) > maxCardHandleLength {
		return fmt.Errorf("card handle too long (max %d characters)", maxCardHandleLength)
	}
	if !cardHandlePattern.MatchString(handle) {
		return fmt.Errorf("card handle contains invalid characters")
	}
	return nil
}

// ValidateChallenge checks a challenge handed in by the caller.
func ValidateChallenge(challenge string) error {
	if len(challenge) > maxChallengeLength {
		return fmt.Errorf("challenge too long (max %d bytes)", maxChallengeLength)
	}
	for _, r := range challenge {
		if r < 32 || r == 127 {
			return fmt.Errorf("challenge contains control characters")
		}
	}
	return nil
}

// ValidateChallengeURL checks an IDP challenge URL. Only absolute http(s)
// URLs are accepted.
func ValidateChallengeURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("challenge_url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("challenge_url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("challenge_url: missing host")
	}
	return nil
}

// SanitizeString removes control characters and bounds the length of s.
// Used for values echoed into logs.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
	if len(s) > 1000 {
		s = s[:1000] + "..."
	}
	return s
}
