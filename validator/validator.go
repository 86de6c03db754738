package validator

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/secrun/secrun/config"
)

// Validation errors. Checks fail closed: code that cannot be read as
// Python source is rejected, not treated as import-free.
var (
	ErrDisallowedImport = errors.New("disallowed import")
	ErrUnparsable       = errors.New("code could not be parsed")
)

// importTargetRe matches a single target of an import statement:
// a dotted module path with an optional alias.
var importTargetRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(\.[A-Za-z_][A-Za-z0-9_]*)*(\s+as\s+[A-Za-z_][A-Za-z0-9_]*)?$`)

// fromModuleRe matches the module clause of a from-import, allowing
// leading dots for relative imports.
var fromModuleRe = regexp.MustCompile(`^(\.*)([A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*)?$`)

// Validator statically checks that submitted code only imports modules
// from a configured allow-list. It never executes the code.
type Validator struct {
	allowed map[string]struct{}
	modules []string
}

// New creates a Validator for the given allow-list of root module names.
func New(allowedModules []string) *Validator {
	allowed := make(map[string]struct{}, len(allowedModules))
	modules := make([]string, 0, len(allowedModules))
	for _, m := range allowedModules {
		if _, dup := allowed[m]; dup {
			continue
		}
		allowed[m] = struct{}{}
		modules = append(modules, m)
	}
	sort.Strings(modules)

	return &Validator{allowed: allowed, modules: modules}
}

// NewFromConfig creates a Validator from the application configuration.
func NewFromConfig(cfg *config.Config) *Validator {
	return New(cfg.Validator.AllowedModules)
}

// AllowedModules returns the allow-list in sorted order.
func (v *Validator) AllowedModules() []string {
	out := make([]string, len(v.modules))
	copy(out, v.modules)
	return out
}

// Validate scans the code for import statements and returns an error if
// any referenced root module is absent from the allow-list, or if the
// code cannot be read as Python source.
func (v *Validator) Validate(code string) error {
	lines, err := logicalLines(code)
	if err != nil {
		return err
	}

	for _, line := range lines {
		stmt := strings.TrimSpace(line)
		fields := strings.Fields(stmt)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "import":
			if err := v.checkImport(strings.TrimSpace(strings.TrimPrefix(stmt, "import"))); err != nil {
				return err
			}
		case "from":
			if err := v.checkFromImport(strings.TrimSpace(strings.TrimPrefix(stmt, "from"))); err != nil {
				return err
			}
		}
	}

	return nil
}

// checkImport validates the targets of "import a.b as c, d".
func (v *Validator) checkImport(targets string) error {
	if targets == "" {
		return fmt.Errorf("%w: empty import statement", ErrUnparsable)
	}
	for _, target := range strings.Split(targets, ",") {
		target = strings.TrimSpace(target)
		m := importTargetRe.FindStringSubmatch(target)
		if m == nil {
			return fmt.Errorf("%w: malformed import target %q", ErrUnparsable, target)
		}
		if err := v.checkRoot(m[1]); err != nil {
			return err
		}
	}
	return nil
}

// checkFromImport validates the module clause of "from x.y import z".
func (v *Validator) checkFromImport(stmt string) error {
	moduleClause, rest, found := strings.Cut(stmt, " import")
	if !found || (rest != "" && !strings.HasPrefix(rest, " ")) {
		return fmt.Errorf("%w: malformed from-import statement", ErrUnparsable)
	}

	moduleClause = strings.TrimSpace(moduleClause)
	m := fromModuleRe.FindStringSubmatch(moduleClause)
	if m == nil {
		return fmt.Errorf("%w: malformed module path %q", ErrUnparsable, moduleClause)
	}

	// "from . import x" names no module; the relative target resolves
	// inside the workspace and needs no allow-list entry.
	if m[2] == "" {
		if m[1] == "" {
			return fmt.Errorf("%w: malformed from-import statement", ErrUnparsable)
		}
		return nil
	}

	root, _, _ := strings.Cut(m[2], ".")
	return v.checkRoot(root)
}

func (v *Validator) checkRoot(root string) error {
	if _, ok := v.allowed[root]; !ok {
		return fmt.Errorf("%w: %s", ErrDisallowedImport, root)
	}
	return nil
}

// logicalLines splits source into logical statements with string literals
// blanked and comments stripped, joining explicit (backslash) and implicit
// (open bracket) line continuations. Whitespace between tokens is
// normalized to single spaces, and compound statement headers are split
// from their suites at top-level colons so that one-line forms such as
// "if x: import y" surface the import as its own statement. It reports
// ErrUnparsable for source that ends inside a string literal or an open
// bracket.
func logicalLines(code string) ([]string, error) {
	var (
		lines   []string
		current strings.Builder

		inString    bool
		tripleQuote bool
		delim       byte
		depth       int
	)

	flush := func() {
		lines = append(lines, current.String())
		current.Reset()
	}

	raw := strings.Split(strings.ReplaceAll(code, "\r\n", "\n"), "\n")
	for _, line := range raw {
		i := 0
		backslashCont := false
		for i < len(line) {
			c := line[i]

			if inString {
				if c == '\\' {
					i += 2
					continue
				}
				if c == delim {
					if !tripleQuote {
						inString = false
						i++
						continue
					}
					if strings.HasPrefix(line[i:], strings.Repeat(string(delim), 3)) {
						inString = false
						i += 3
						continue
					}
				}
				i++
				continue
			}

			switch c {
			case '#':
				// Comment runs to end of line.
				i = len(line)
			case '\'', '"':
				inString = true
				delim = c
				if strings.HasPrefix(line[i:], strings.Repeat(string(c), 3)) {
					tripleQuote = true
					i += 3
				} else {
					tripleQuote = false
					i++
				}
			case '(', '[', '{':
				depth++
				current.WriteByte(' ')
				i++
			case ')', ']', '}':
				depth--
				if depth < 0 {
					return nil, fmt.Errorf("%w: unbalanced brackets", ErrUnparsable)
				}
				current.WriteByte(' ')
				i++
			case '\\':
				if i == len(line)-1 {
					backslashCont = true
				}
				i++
			case ';':
				// Statement separator on one physical line.
				if depth == 0 {
					flush()
				}
				i++
			case ':':
				// A top-level colon ends a compound statement header
				// (if/for/while/def/try ...); the suite after it is a
				// statement of its own and must be scanned separately.
				if depth == 0 {
					flush()
				} else {
					current.WriteByte(c)
				}
				i++
			case '\t', '\v', '\f', '\r':
				// Python accepts any whitespace between tokens.
				current.WriteByte(' ')
				i++
			default:
				current.WriteByte(c)
				i++
			}
		}

		if inString && !tripleQuote {
			return nil, fmt.Errorf("%w: unterminated string literal", ErrUnparsable)
		}
		if inString || backslashCont || depth > 0 {
			// Logical line continues on the next physical line.
			current.WriteByte(' ')
			continue
		}
		flush()
	}

	if inString {
		return nil, fmt.Errorf("%w: unterminated string literal", ErrUnparsable)
	}
	if depth != 0 {
		return nil, fmt.Errorf("%w: unbalanced brackets", ErrUnparsable)
	}

	return lines, nil
}
