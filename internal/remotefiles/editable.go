package remotefiles

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
)

// editableNames holds extensions, with their dot, and whole file names that
// the text editor accepts.
var editableNames = map[string]bool{}

func init() {
	for _, n := range []string{
		".txt", ".log", ".md", ".json", ".xml", ".yaml", ".yml",
		".sh", ".bash", ".zsh", ".fish",
		".py", ".js", ".ts", ".jsx", ".tsx", ".css", ".html", ".htm",
		".c", ".cpp", ".h", ".hpp", ".cs", ".java", ".go", ".rs", ".rb",
		".php", ".pl", ".lua", ".sql", ".conf", ".cfg", ".ini", ".env",
		".toml", ".properties", ".gitignore", ".dockerignore", ".editorconfig",
		"dockerfile", "makefile", ".htaccess", ".nginx", ".service",
	} {
		editableNames[n] = true
	}
}

// IsEditable reports whether name looks like a text file, by extension or,
// for extensionless files, by full name. Matching ignores case.
func IsEditable(name string) bool {
	base := path.Base(name)
	ext := path.Ext(base)
	if ext == "" || ext == base {
		return editableNames[strings.ToLower(base)]
	}
	return editableNames[strings.ToLower(ext)]
}

// PermissionMode builds a mode from owner, group and other octal digits.
func PermissionMode(owner, group, other int) (os.FileMode, error) {
	for _, d := range []int{owner, group, other} {
		if d < 0 || d > 7 {
			return 0, fmt.Errorf("invalid permission digit %d", d)
		}
	}
	return os.FileMode(owner<<6 | group<<3 | other), nil
}

// ParseMode reads either an ls permission string such as "-rwxr-xr--" or an
// octal string such as "754".
func ParseMode(s string) (os.FileMode, error) {
	s = strings.TrimSpace(s)
	if len(s) == 10 {
		s = s[1:]
	}
	if len(s) == 9 {
		var mode os.FileMode
		for i, c := range s {
			if c != '-' && c != 'S' && c != 'T' {
				mode |= 1 << (8 - i)
			}
		}
		return mode, nil
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil || v > 0o777 {
		return 0, fmt.Errorf("invalid mode %q", s)
	}
	return os.FileMode(v), nil
}
