package restorepoint

import "strings"

// ScopeOptions picks which parts of a WordPress tree a restore point covers
type ScopeOptions struct {
	PluginsThemes bool `yaml:"plugins_themes" mapstructure:"plugins_themes"`
	WPConfig      bool `yaml:"wp_config" mapstructure:"wp_config"`
	Core          bool `yaml:"core" mapstructure:"core"`
	Uploads       bool `yaml:"uploads" mapstructure:"uploads"`
}

// AlwaysExcluded are never part of a restore point
var AlwaysExcluded = []string{
	"wp-content/cache/",
	"wp-content/upgrade/",
}

// BuildScope turns scope options into root paths and exclusions
func BuildScope(opts ScopeOptions) Scope {
	var paths []string
	if opts.PluginsThemes {
		paths = append(paths, "wp-content/plugins", "wp-content/themes")
	}
	if opts.WPConfig {
		paths = append(paths, "wp-config.php")
	}
	if opts.Core {
		paths = append(paths, "wp-admin", "wp-includes", "index.php", "wp-load.php", "wp-settings.php")
	}
	if opts.Uploads {
		paths = append(paths, "wp-content/uploads")
	}

	exclude := append([]string(nil), AlwaysExcluded...)
	if !opts.Uploads {
		exclude = append(exclude, "wp-content/uploads/")
	}
	return Scope{Paths: paths, Exclude: exclude}
}

// Excluded reports whether rel falls under one of the exclusion prefixes.
// Directories are matched with a trailing slash.
func (s Scope) Excluded(rel string, isDir bool) bool {
	if isDir {
		rel = strings.TrimSuffix(rel, "/") + "/"
	}
	for _, prefix := range s.Exclude {
		if prefix != "" && strings.HasPrefix(rel, prefix) {
			return true
		}
	}
	return false
}
