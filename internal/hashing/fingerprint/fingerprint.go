// Package fingerprint derives the structural fingerprint used by the
// context hash: the normalized signature of the enclosing function and
// the sequence of statement-kind tokens between scope entry and the
// reported event. Line numbers never enter the fingerprint, so edits
// elsewhere in the file do not disturb it.
package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	forest "github.com/alexaandru/go-sitter-forest"
	sitter "github.com/alexaandru/go-tree-sitter-bare"
	"github.com/src-d/enry/v2"
)

// Sentinel errors for fingerprint extraction.
var (
	// ErrUnsupportedLanguage indicates no grammar is available for the file.
	ErrUnsupportedLanguage = errors.New("no grammar for language")
	// ErrNoRootNode indicates the parse produced no syntax tree.
	ErrNoRootNode = errors.New("parse produced no root node")
)

// Fingerprint is the structural identity of one reported location.
type Fingerprint struct {
	// Signature is the normalized enclosing-function signature: return
	// and parameter types, never parameter names.
	Signature string

	// Statements is the ordered statement-kind token sequence from the
	// enclosing scope's entry down to the reported line.
	Statements []string

	// InFunction is false when no enclosing function could be resolved
	// and the fingerprint was taken from file scope instead.
	InFunction bool
}

// forestNames maps enry language names to go-sitter-forest grammar names
// where the two disagree.
var forestNames = map[string]string{
	"C++":         "cpp",
	"C#":          "csharp",
	"Shell":       "bash",
	"Objective-C": "objc",
}

// Extractor parses source files with tree-sitter grammars and extracts
// fingerprints. It is safe for concurrent use: parsers are pooled per
// language because a tree-sitter parser may serve one parse at a time.
type Extractor struct {
	mu    sync.Mutex
	pools map[string]*sync.Pool
}

// NewExtractor creates an Extractor with empty parser pools.
func NewExtractor() *Extractor {
	return &Extractor{pools: make(map[string]*sync.Pool)}
}

// Extract parses the file content and returns the fingerprint for the
// event at the given 1-based line.
func (e *Extractor) Extract(ctx context.Context, filename string, content []byte, line int) (Fingerprint, error) {
	langName, err := grammarName(filename, content)
	if err != nil {
		return Fingerprint{}, err
	}

	lang, langErr := loadLanguage(langName)
	if langErr != nil {
		return Fingerprint{}, langErr
	}

	pool := e.pool(langName, lang)

	parser, ok := pool.Get().(*sitter.Parser)
	if !ok {
		return Fingerprint{}, fmt.Errorf("%w: parser pool for %s", ErrUnsupportedLanguage, langName)
	}
	defer pool.Put(parser)

	tree, parseErr := parser.ParseString(ctx, nil, content)
	if parseErr != nil {
		return Fingerprint{}, fmt.Errorf("parse %s: %w", filename, parseErr)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.IsNull() {
		return Fingerprint{}, fmt.Errorf("%w: %s", ErrNoRootNode, filename)
	}

	row := uint32(line - 1)

	fn, found := enclosingFunction(root, row)
	if !found {
		// Global scope: fingerprint from file-scope entry.
		return Fingerprint{
			Statements: collectStatements(root, row),
			InFunction: false,
		}, nil
	}

	return Fingerprint{
		Signature:  normalizedSignature(fn, content),
		Statements: collectStatements(fn, row),
		InFunction: true,
	}, nil
}

// pool returns the parser pool for the language, creating it on first use.
func (e *Extractor) pool(name string, lang *sitter.Language) *sync.Pool {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, exists := e.pools[name]
	if !exists {
		p = &sync.Pool{
			New: func() any {
				parser := sitter.NewParser()
				parser.SetLanguage(lang)

				return parser
			},
		}
		e.pools[name] = p
	}

	return p
}

// grammarName resolves the forest grammar name for a file.
func grammarName(filename string, content []byte) (string, error) {
	detected := enry.GetLanguage(path.Base(filename), content)
	if detected == "" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, filename)
	}

	if mapped, ok := forestNames[detected]; ok {
		return mapped, nil
	}

	return strings.ToLower(detected), nil
}

// loadLanguage fetches a grammar from the forest. Forest panics on
// unknown names, so the lookup is wrapped in a recover.
func loadLanguage(name string) (*sitter.Language, error) {
	var lang *sitter.Language

	func() {
		defer func() {
			_ = recover() //nolint:errcheck // recover() returns any, not error
		}()

		lang = forest.GetLanguage(name)
	}()

	if lang == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, name)
	}

	return lang, nil
}

// functionKinds are node types that open a function-like scope across
// the supported grammars.
var functionKinds = map[string]bool{
	"function_definition":     true,
	"function_declaration":    true,
	"function_item":           true,
	"method_declaration":      true,
	"method_definition":       true,
	"constructor_declaration": true,
	"func_literal":            true,
	"lambda_expression":       true,
}

// isFunctionKind reports whether the node type opens a function scope.
func isFunctionKind(kind string) bool {
	if functionKinds[kind] {
		return true
	}

	return strings.Contains(kind, "function") || strings.Contains(kind, "method")
}

// enclosingFunction returns the innermost function-like node whose span
// covers the given row.
func enclosingFunction(n sitter.Node, row uint32) (sitter.Node, bool) {
	var (
		best  sitter.Node
		found bool
	)

	for i := range n.NamedChildCount() {
		child := n.NamedChild(i)

		if child.StartPoint().Row > uint(row) || child.EndPoint().Row < uint(row) {
			continue
		}

		if isFunctionKind(child.Type()) {
			best = child
			found = true
		}

		// Recurse for a narrower enclosing function (nested lambdas etc.).
		inner, innerFound := enclosingFunction(child, row)
		if innerFound {
			best = inner
			found = true
		}
	}

	return best, found
}

// statementToken maps a node type to its coarse statement-kind token,
// or "" when the node does not contribute to the fingerprint.
func statementToken(kind string) string {
	switch {
	case strings.Contains(kind, "if_"), kind == "conditional_expression", kind == "ternary_expression":
		return "IF"
	case strings.Contains(kind, "for_"), strings.Contains(kind, "while_"),
		strings.Contains(kind, "do_statement"), strings.Contains(kind, "loop"):
		return "LOOP"
	case strings.Contains(kind, "switch"), strings.Contains(kind, "match_"):
		return "SWITCH"
	case strings.Contains(kind, "return"):
		return "RETURN"
	case strings.Contains(kind, "call"):
		return "CALL"
	case strings.Contains(kind, "throw"), strings.Contains(kind, "raise"):
		return "THROW"
	case strings.Contains(kind, "try"):
		return "TRY"
	case strings.Contains(kind, "break"):
		return "BREAK"
	case strings.Contains(kind, "continue"):
		return "CONTINUE"
	case strings.Contains(kind, "goto"):
		return "GOTO"
	case strings.Contains(kind, "assignment"):
		return "ASSIGN"
	case kind == "declaration" || strings.HasSuffix(kind, "_declaration") ||
		strings.HasSuffix(kind, "_declarator_statement") || kind == "short_var_declaration":
		return "DECL"
	}

	return ""
}

// collectStatements walks the scope subtree in source order and returns
// the statement-kind tokens of every node starting at or before the
// target row. Rows gate only the cutoff; no positions enter the result.
func collectStatements(scope sitter.Node, row uint32) []string {
	tokens := make([]string, 0, 16)
	appendStatements(scope, row, &tokens)

	return tokens
}

func appendStatements(n sitter.Node, row uint32, tokens *[]string) {
	for i := range n.NamedChildCount() {
		child := n.NamedChild(i)

		if child.StartPoint().Row > uint(row) {
			return
		}

		tok := statementToken(child.Type())
		if tok != "" {
			*tokens = append(*tokens, tok)
		}

		appendStatements(child, row, tokens)
	}
}

// bodyKinds are node types that hold a function's body rather than its
// signature.
var bodyKinds = map[string]bool{
	"compound_statement": true,
	"block":              true,
	"statement_block":    true,
	"body":               true,
	"function_body":      true,
}

// normalizedSignature builds a name-free signature from a function node:
// the source text of type-ish nodes plus the structural kinds of the
// parameter list, with the body and all identifiers excluded.
func normalizedSignature(fn sitter.Node, content []byte) string {
	parts := make([]string, 0, 8)
	appendSignatureParts(fn, content, &parts)

	return strings.Join(parts, " ")
}

func appendSignatureParts(n sitter.Node, content []byte, parts *[]string) {
	for i := range n.NamedChildCount() {
		child := n.NamedChild(i)
		kind := child.Type()

		if bodyKinds[kind] || strings.Contains(kind, "body") {
			continue
		}

		switch {
		case strings.Contains(kind, "identifier"):
			// Names never enter the signature.
			continue
		case strings.Contains(kind, "type"):
			*parts = append(*parts, normalizeSpace(nodeText(child, content)))
		case strings.Contains(kind, "parameter"):
			*parts = append(*parts, kind)
			appendSignatureParts(child, content, parts)
		default:
			appendSignatureParts(child, content, parts)
		}
	}
}

// nodeText returns the source text covered by a node.
func nodeText(n sitter.Node, content []byte) string {
	start := n.StartByte()
	end := n.EndByte()

	if int(end) > len(content) || start > end {
		return ""
	}

	return string(content[start:end])
}

// normalizeSpace collapses runs of whitespace into single spaces.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
