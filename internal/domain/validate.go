package domain

import (
	"strings"
	"unicode/utf8"
)

// ValidatePlayerName returns the trimmed name if it is between MinNameLength and MaxNameLength characters.
func ValidatePlayerName(name string) (string, error) {
	name = strings.TrimSpace(name)

	switch n := utf8.RuneCountInString(name); {
	case n == 0:
		return "", invalid(ReasonInvalidName, "player name is required")
	case n < MinNameLength:
		return "", invalid(ReasonInvalidName, "player name must have at least %d characters", MinNameLength)
	case n > MaxNameLength:
		return "", invalid(ReasonInvalidName, "player name must have at most %d characters", MaxNameLength)
	}

	return name, nil
}

// ValidateRoomCode returns the canonical (trimmed, upper-cased) room code.
func ValidateRoomCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	if code == "" {
		return "", invalid(ReasonInvalidCode, "room code is required")
	}

	if len(code) != RoomCodeLength {
		return "", invalid(ReasonInvalidCode, "room code must have %d characters", RoomCodeLength)
	}

	for _, c := range code {
		if !strings.ContainsRune(RoomCodeChars, c) {
			return "", invalid(ReasonInvalidCode, "room code contains invalid character %q", c)
		}
	}

	return code, nil
}

// ValidateLetter returns the upper-cased letter if it is a single A-Z character.
func ValidateLetter(letter string) (string, error) {
	letter = strings.ToUpper(strings.TrimSpace(letter))

	if letter == "" {
		return "", invalid(ReasonInvalidLetter, "letter is required")
	}

	if len(letter) != 1 || letter[0] < 'A' || letter[0] > 'Z' {
		return "", invalid(ReasonInvalidLetter, "letter must be a single character between A and Z: %q", letter)
	}

	return letter, nil
}

// ValidateAnswers checks that every category is present and returns a copy restricted to categories.
func ValidateAnswers(categories []string, answers map[string]string) (Answers, error) {
	if answers == nil {
		return nil, invalid(ReasonInvalidAnswers, "answers are required")
	}

	out := make(Answers, len(categories))
	for _, c := range categories {
		v, ok := answers[c]
		if !ok {
			return nil, invalid(ReasonInvalidAnswers, "missing category: %s", c)
		}
		out[c] = v
	}

	return out, nil
}

// ValidateCategory checks that category is one of categories.
func ValidateCategory(categories []string, category string) error {
	for _, c := range categories {
		if c == category {
			return nil
		}
	}

	return invalid(ReasonInvalidCategory, "unknown category: %s", category)
}
