// Package stamper rewrites JSX/TSX sources so every eligible element carries a
// hidden attribute with the file, line and column that declared it.
package stamper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"tapsource/internal/source"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// ErrUnsupportedFile is returned for extensions the stamper has no grammar for.
var ErrUnsupportedFile = errors.New("unsupported file type")

const fragmentName = "Fragment"

// Options configures a Stamper.
type Options struct {
	// PropName is the injected attribute name (default "__inspectorSource").
	PropName string
	// Cwd is the directory display paths are made relative to. Empty means the
	// absolute path is kept as-is apart from the src/ truncation.
	Cwd string
}

// Stamper injects source-location attributes into JSX elements.
type Stamper struct {
	propName string
	cwd      string
}

// New builds a Stamper, applying defaults to zero-valued options.
func New(opts Options) *Stamper {
	propName := opts.PropName
	if propName == "" {
		propName = source.DefaultPropName
	}
	return &Stamper{propName: propName, cwd: opts.Cwd}
}

// PropName returns the attribute name this stamper injects.
func (s *Stamper) PropName() string { return s.propName }

// Result describes a single stamped file.
type Result struct {
	Path           string
	Output         []byte
	Stamped        int
	Fragments      int
	AlreadyStamped int
	NoSpan         int
	SyntaxErrors   bool
}

// Changed reports whether the output differs from the input.
func (r *Result) Changed() bool { return r.Stamped > 0 }

type insertion struct {
	offset uint32
	text   string
}

// Supports reports whether filename has an extension the stamper can parse.
func Supports(filename string) bool {
	return languageFor(filename) != nil
}

func languageFor(filename string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".tsx":
		return tsx.GetLanguage()
	case ".ts", ".mts", ".cts":
		return typescript.GetLanguage()
	case ".js", ".jsx", ".mjs", ".cjs":
		return javascript.GetLanguage()
	default:
		return nil
	}
}

// Stamp parses content as filename and returns the rewritten source. Elements
// that are fragments, already stamped, or lack a usable span are left alone.
func (s *Stamper) Stamp(ctx context.Context, filename string, content []byte) (*Result, error) {
	lang := languageFor(filename)
	if lang == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, filename)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}
	defer tree.Close()

	result := &Result{Path: filename}
	root := tree.RootNode()
	if root == nil {
		result.Output = content
		return result, nil
	}
	result.SyntaxErrors = root.HasError()

	displayPath := source.DisplayPath(filename, s.cwd)
	lines := newLineIndex(content)

	var inserts []insertion
	s.walk(root, func(element, opening *sitter.Node) {
		ins, ok := s.stampElement(element, opening, content, displayPath, lines, result)
		if ok {
			inserts = append(inserts, ins)
		}
	})

	result.Stamped = len(inserts)
	result.Output = applyInsertions(content, inserts)
	return result, nil
}

// walk calls fn for every JSX element with the node carrying its span and the
// node carrying its name and attributes.
func (s *Stamper) walk(node *sitter.Node, fn func(element, opening *sitter.Node)) {
	if node == nil {
		return
	}
	switch node.Type() {
	case "jsx_self_closing_element":
		fn(node, node)
	case "jsx_element":
		if opening := node.ChildByFieldName("open_tag"); opening != nil {
			fn(node, opening)
		} else if first := node.NamedChild(0); first != nil && first.Type() == "jsx_opening_element" {
			fn(node, first)
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		s.walk(node.NamedChild(i), fn)
	}
}

func (s *Stamper) stampElement(element, opening *sitter.Node, content []byte, displayPath string, lines lineIndex, result *Result) (insertion, bool) {
	nameNode := opening.ChildByFieldName("name")
	if nameNode == nil {
		// <>...</> shorthand fragment
		result.Fragments++
		return insertion{}, false
	}
	if nameNode.Type() == "ERROR" || nameNode.IsMissing() {
		result.NoSpan++
		return insertion{}, false
	}

	name := elementName(nameNode, content)
	if name == fragmentName {
		result.Fragments++
		return insertion{}, false
	}

	if s.hasProp(opening, content) {
		result.AlreadyStamped++
		return insertion{}, false
	}

	if element.IsMissing() || element.EndByte() <= element.StartByte() {
		result.NoSpan++
		return insertion{}, false
	}

	start := element.StartPoint()
	loc := source.Location{
		File:    displayPath,
		Line:    int(start.Row) + 1,
		Column:  lines.column(content, element.StartByte(), start.Row),
		Element: name,
	}

	return insertion{
		offset: insertionPoint(opening),
		text:   " " + s.propName + "={" + objectLiteral(loc) + "}",
	}, true
}

// elementName resolves the tag name: identifiers as-is, member expressions to
// their last property, anything else to "Unknown".
func elementName(node *sitter.Node, content []byte) string {
	switch node.Type() {
	case "identifier", "jsx_identifier", "property_identifier", "type_identifier":
		return node.Content(content)
	case "member_expression", "nested_identifier":
		if prop := node.ChildByFieldName("property"); prop != nil {
			return prop.Content(content)
		}
		if n := int(node.NamedChildCount()); n > 0 {
			return node.NamedChild(n - 1).Content(content)
		}
	}
	return source.UnknownElement
}

func (s *Stamper) hasProp(opening *sitter.Node, content []byte) bool {
	for i := 0; i < int(opening.NamedChildCount()); i++ {
		attr := opening.NamedChild(i)
		if attr.Type() != "jsx_attribute" {
			continue
		}
		nameNode := attr.NamedChild(0)
		if nameNode == nil {
			continue
		}
		if nameNode.Type() == "property_identifier" || nameNode.Type() == "identifier" {
			if nameNode.Content(content) == s.propName {
				return true
			}
		}
	}
	return false
}

// insertionPoint is the end of the last named child of the opening tag (the
// last attribute, type arguments, or the name itself), so the new attribute is
// appended to the attribute list.
func insertionPoint(opening *sitter.Node) uint32 {
	end := opening.StartByte()
	for i := 0; i < int(opening.NamedChildCount()); i++ {
		child := opening.NamedChild(i)
		if child.Type() == "comment" {
			continue
		}
		if child.EndByte() > end {
			end = child.EndByte()
		}
	}
	return end
}

func objectLiteral(loc source.Location) string {
	var b strings.Builder
	b.WriteString("{ file: ")
	b.WriteString(jsString(loc.File))
	b.WriteString(", line: ")
	b.WriteString(strconv.Itoa(loc.Line))
	b.WriteString(", column: ")
	b.WriteString(strconv.Itoa(loc.Column))
	b.WriteString(", element: ")
	b.WriteString(jsString(loc.Element))
	b.WriteString(" }")
	return b.String()
}

func jsString(s string) string {
	raw, err := json.Marshal(s)
	if err != nil {
		return strconv.Quote(s)
	}
	return string(raw)
}

func applyInsertions(content []byte, inserts []insertion) []byte {
	if len(inserts) == 0 {
		return content
	}
	sort.SliceStable(inserts, func(i, j int) bool { return inserts[i].offset < inserts[j].offset })

	extra := 0
	for _, ins := range inserts {
		extra += len(ins.text)
	}
	out := make([]byte, 0, len(content)+extra)
	prev := uint32(0)
	for _, ins := range inserts {
		out = append(out, content[prev:ins.offset]...)
		out = append(out, ins.text...)
		prev = ins.offset
	}
	return append(out, content[prev:]...)
}

// lineIndex maps rows to the byte offset where they start so columns can be
// reported in characters rather than bytes.
type lineIndex []uint32

func newLineIndex(content []byte) lineIndex {
	idx := lineIndex{0}
	for i, c := range content {
		if c == '\n' {
			idx = append(idx, uint32(i+1))
		}
	}
	return idx
}

func (l lineIndex) column(content []byte, offset uint32, row uint32) int {
	if int(row) >= len(l) || offset < l[row] {
		return 0
	}
	return utf8.RuneCount(content[l[row]:offset])
}
