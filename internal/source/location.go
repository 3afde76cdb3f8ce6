// Package source holds the source-location model shared by the stamper and the
// runtime inspector.
package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"
)

// DefaultPropName is the attribute the stamper injects and the inspector reads.
const DefaultPropName = "__inspectorSource"

// UnknownElement is used when the element name cannot be resolved.
const UnknownElement = "Unknown"

// Location is the file/line/column of the statement that declared a UI element.
// Line is 1-based, Column is 0-based.
type Location struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Element string `json:"element,omitempty"`
}

// Target renders the location as the "path:line:column" string editors accept.
func (l Location) Target() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Candidate is one entry of the ancestor chain offered when the hit element
// itself is not actionable.
type Candidate struct {
	Name   string    `json:"name,omitempty"`
	Source *Location `json:"source,omitempty"`
}

// FromValue decodes a location from whatever the runtime exposed under the
// stamped attribute. Maps coming over JSON carry float64 numbers and some
// hosts stringify them, so decoding is lenient. It returns nil when v does not
// look like a location.
func FromValue(v interface{}) *Location {
	switch val := v.(type) {
	case nil:
		return nil
	case Location:
		return &val
	case *Location:
		return val
	case map[string]interface{}:
		return fromMap(val)
	case map[string]string:
		m := make(map[string]interface{}, len(val))
		for k, s := range val {
			m[k] = s
		}
		return fromMap(m)
	default:
		return nil
	}
}

func fromMap(m map[string]interface{}) *Location {
	file, err := cast.ToStringE(m["file"])
	if err != nil || file == "" {
		return nil
	}
	loc := &Location{File: file}
	loc.Line, _ = cast.ToIntE(m["line"])
	loc.Column, _ = cast.ToIntE(m["column"])
	loc.Element, _ = cast.ToStringE(m["element"])
	return loc
}

// DisplayPath turns a build-time filename into the stable identifier embedded in
// stamped output. Absolute paths are made relative to cwd; when the result has a
// "/src/" segment everything before the last one is dropped.
func DisplayPath(filename, cwd string) string {
	display := filename
	if filepath.IsAbs(filename) && cwd != "" {
		if rel, err := filepath.Rel(cwd, filename); err == nil && rel != "" {
			display = rel
		}
	}

	sep := string(os.PathSeparator)
	marker := sep + "src" + sep
	if idx := strings.LastIndex(display, marker); idx != -1 {
		display = display[idx+1:]
	}
	return display
}
