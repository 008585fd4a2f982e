package domain

// AppConfig represents a stored preference (Key-Value).
type AppConfig struct {
	Key            string `json:"key"`
	Value          string `json:"value"`
	UpdatedAtUnixM int64  `json:"updated_at_unix,string"`
}

const (
	// ThemePreferenceKey is the fixed key of the UI theme preference.
	ThemePreferenceKey = "shadow-exchange-theme"
	DefaultTheme       = "dark"
)

// Themes lists the selectable UI themes.
var Themes = []string{"dark", "light", "midnight", "sunset", "ocean", "forest"}

// IsValidTheme reports whether name is one of Themes.
func IsValidTheme(name string) bool {
	for _, t := range Themes {
		if t == name {
			return true
		}
	}
	return false
}
