// Package schemas holds the built-in Mangle programs.
package schemas

import _ "embed"

// Inspector declares the inspection history predicates and the rules derived
// from them.
//
//go:embed inspector.mg
var Inspector string
