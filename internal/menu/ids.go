package menu

import "strings"

// DeriveID maps a display name to its stable key: lowercased with every run
// of whitespace collapsed to a single dash.
func DeriveID(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}
