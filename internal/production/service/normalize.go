package service

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeKey returns the comparison form of a material or variant name:
// NFC, case folded, trimmed, inner whitespace collapsed to one space.
// "Tela Cliente" and " tela  cliente " share a key.
func NormalizeKey(s string) string {
	s = norm.NFC.String(s)
	s = cases.Fold().String(s) // Caser is stateful, one per call
	return strings.Join(strings.Fields(s), " ")
}

// cleanName trims and collapses whitespace but keeps the operator's casing.
func cleanName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
