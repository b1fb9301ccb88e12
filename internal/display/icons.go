package display

import (
	"os"
	"strings"
)

// Icon has a Unicode glyph and an ASCII fallback
type Icon struct {
	Unicode string
	ASCII   string
}

var (
	IconSuccess = Icon{"✓", "[OK]"}
	IconError   = Icon{"✗", "[ERR]"}
	IconWarning = Icon{"⚠", "[WARN]"}
	IconInfo    = Icon{"ℹ", "[INFO]"}
	IconPending = Icon{"⋯", "[..]"}
)

// Render returns the glyph the terminal can show
func (i Icon) Render(unicode bool) string {
	if unicode {
		return i.Unicode
	}
	return i.ASCII
}

func detectUnicodeSupport() bool {
	if os.Getenv("NO_UNICODE") != "" {
		return false
	}
	for _, name := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		if v := os.Getenv(name); v != "" {
			v = strings.ToUpper(v)
			return strings.Contains(v, "UTF-8") || strings.Contains(v, "UTF8")
		}
	}
	return false
}
