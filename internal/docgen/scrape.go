// Package docgen scrapes documentation comments and declarations from the C/C++
// firmware and the Python/Go tooling and renders them as Markdown and HTML.
package docgen

import (
	"bufio"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Language of a scraped file.
type Language string

const (
	LangC      Language = "c"
	LangPython Language = "python"
)

// Item kinds.
const (
	KindFunction = "function"
	KindDefine   = "define"
	KindStruct   = "struct"
	KindClass    = "class"
	KindMethod   = "method"
)

// Item is a documented declaration.
type Item struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Signature string `json:"signature"`
	Doc       string `json:"doc,omitempty"`
	Line      int    `json:"line"`
}

// FileDoc is the documentation of one source file.
type FileDoc struct {
	Path     string   `json:"path"`
	Language Language `json:"language"`
	Summary  string   `json:"summary,omitempty"`
	Items    []Item   `json:"items"`
}

var extensions = map[string]Language{
	".c":   LangC,
	".h":   LangC,
	".cpp": LangC,
	".hpp": LangC,
	".cc":  LangC,
	".ino": LangC,
	".py":  LangPython,
}

// LanguageOf returns the language of path, or false when it is not scraped.
func LanguageOf(path string) (Language, bool) {
	lang, ok := extensions[strings.ToLower(filepath.Ext(path))]

	return lang, ok
}

// Scrape parses r as lang.
func Scrape(path string, lang Language, r io.Reader) (*FileDoc, error) {
	lines := []string{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "unable to read %s", path)
	}

	doc := &FileDoc{Path: filepath.ToSlash(path), Language: lang, Items: []Item{}}
	switch lang {
	case LangC:
		scrapeC(doc, lines)
	case LangPython:
		scrapePython(doc, lines)
	default:
		return nil, errors.Errorf("unsupported language %q", lang)
	}

	return doc, nil
}

var (
	cDefine   = regexp.MustCompile(`^\s*#\s*define\s+([A-Za-z_]\w*)(\([^)]*\))?\s*(.*)$`)
	cStruct   = regexp.MustCompile(`^\s*(?:typedef\s+)?struct\s+([A-Za-z_]\w*)?\s*\{?\s*$`)
	cTypedefE = regexp.MustCompile(`^\s*\}\s*([A-Za-z_]\w*)\s*;`)
	cFunction = regexp.MustCompile(`^\s*((?:static\s+|inline\s+|extern\s+|const\s+|unsigned\s+|signed\s+|volatile\s+)*[A-Za-z_][\w:<>]*[\s\*&]+)([A-Za-z_][\w:]*)\s*\(([^;{]*)\)\s*(;|\{|$)`)
	cKeywords = map[string]bool{"if": true, "for": true, "while": true, "switch": true, "return": true, "else": true, "sizeof": true}
)

// scrapeC keeps the last /** */ or /// comment and attaches it to the next
// declaration found.
func scrapeC(doc *FileDoc, lines []string) {
	pending := ""
	inBlock := false
	block := []string{}
	depth := 0
	openStruct := -1

	for i, raw := range lines {
		line := strings.TrimSpace(raw)

		if inBlock {
			end := strings.Contains(line, "*/")
			text := strings.TrimSuffix(strings.TrimSpace(strings.SplitN(line, "*/", 2)[0]), "*/")
			block = append(block, strings.TrimSpace(strings.TrimPrefix(text, "*")))
			if end {
				inBlock = false
				pending = joinDoc(block)
				if doc.Summary == "" && len(doc.Items) == 0 && strings.Contains(pending, "@file") {
					doc.Summary = cleanFileDoc(pending)
					pending = ""
				}
			}

			continue
		}

		switch {
		case strings.HasPrefix(line, "/**"):
			rest := strings.TrimPrefix(line, "/**")
			if idx := strings.Index(rest, "*/"); idx >= 0 {
				pending = strings.TrimSpace(rest[:idx])

				continue
			}
			inBlock = true
			block = []string{strings.TrimSpace(rest)}

			continue
		case strings.HasPrefix(line, "///"):
			text := strings.TrimSpace(strings.TrimPrefix(line, "///"))
			if pending != "" {
				pending += "\n" + text
			} else {
				pending = text
			}

			continue
		case line == "":
			continue
		}

		if openStruct >= 0 {
			if m := cTypedefE.FindStringSubmatch(line); m != nil && doc.Items[openStruct].Name == "" {
				doc.Items[openStruct].Name = m[1]
				doc.Items[openStruct].Signature = "typedef struct " + m[1]
			}
		}

		switch m := cDefine.FindStringSubmatch(line); {
		case m != nil:
			doc.Items = append(doc.Items, Item{
				Kind:      KindDefine,
				Name:      m[1],
				Signature: strings.TrimSpace("#define " + m[1] + m[2] + " " + stripComment(m[3])),
				Doc:       pending,
				Line:      i + 1,
			})
			pending = ""
		case depth == 0 && cStruct.MatchString(line):
			sm := cStruct.FindStringSubmatch(line)
			doc.Items = append(doc.Items, Item{
				Kind:      KindStruct,
				Name:      sm[1],
				Signature: strings.TrimSpace(strings.TrimSuffix(line, "{")),
				Doc:       pending,
				Line:      i + 1,
			})
			openStruct = len(doc.Items) - 1
			pending = ""
		case depth == 0:
			if fm := cFunction.FindStringSubmatch(line); fm != nil && !cKeywords[fm[2]] {
				doc.Items = append(doc.Items, Item{
					Kind:      KindFunction,
					Name:      fm[2],
					Signature: strings.TrimSpace(fm[1]) + " " + fm[2] + "(" + strings.TrimSpace(fm[3]) + ")",
					Doc:       pending,
					Line:      i + 1,
				})
			}
			pending = ""
		default:
			pending = ""
		}

		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth < 0 {
			depth = 0
		}
		if depth == 0 && openStruct >= 0 && strings.Contains(line, "}") {
			openStruct = -1
		}
	}

	// keep declarations documented once: a prototype and its definition collapse
	seen := map[string]int{}
	items := doc.Items[:0]
	for _, item := range doc.Items {
		key := item.Kind + ":" + item.Name
		if idx, ok := seen[key]; ok && item.Kind == KindFunction {
			if items[idx].Doc == "" {
				items[idx].Doc = item.Doc
			}

			continue
		}
		seen[key] = len(items)
		items = append(items, item)
	}
	doc.Items = items
}

func stripComment(s string) string {
	if idx := strings.Index(s, "//"); idx >= 0 {
		s = s[:idx]
	}
	if idx := strings.Index(s, "/*"); idx >= 0 {
		s = s[:idx]
	}

	return strings.TrimSpace(s)
}

func joinDoc(lines []string) string {
	res := []string{}
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" && (len(res) == 0 || res[len(res)-1] == "") {
			continue
		}
		res = append(res, l)
	}

	return strings.TrimSpace(strings.Join(res, "\n"))
}

func cleanFileDoc(s string) string {
	res := []string{}
	for _, l := range strings.Split(s, "\n") {
		if strings.HasPrefix(l, "@file") {
			continue
		}
		l = strings.TrimPrefix(l, "@brief ")
		res = append(res, l)
	}

	return strings.TrimSpace(strings.Join(res, "\n"))
}

var (
	pyClass = regexp.MustCompile(`^(\s*)class\s+([A-Za-z_]\w*)\s*(\([^)]*\))?\s*:`)
	pyDef   = regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+([A-Za-z_]\w*)\s*\((.*)\)\s*(?:->\s*[^:]+)?:`)
)

// docstring returns the docstring starting at lines[start], if any.
func docstring(lines []string, start int) string {
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	if start >= len(lines) {
		return ""
	}
	first := strings.TrimSpace(lines[start])
	first = strings.TrimLeft(first, "rRuU")
	var quote string
	switch {
	case strings.HasPrefix(first, `"""`):
		quote = `"""`
	case strings.HasPrefix(first, `'''`):
		quote = `'''`
	default:
		return ""
	}
	body := strings.TrimPrefix(first, quote)
	if idx := strings.Index(body, quote); idx >= 0 {
		return strings.TrimSpace(body[:idx])
	}
	parts := []string{strings.TrimSpace(body)}
	for i := start + 1; i < len(lines); i++ {
		l := strings.TrimSpace(lines[i])
		if idx := strings.Index(l, quote); idx >= 0 {
			parts = append(parts, strings.TrimSpace(l[:idx]))

			break
		}
		parts = append(parts, l)
	}

	return joinDoc(parts)
}

func scrapePython(doc *FileDoc, lines []string) {
	// module docstring: first statement of the file
	for i, l := range lines {
		t := strings.TrimSpace(l)
		if t == "" || strings.HasPrefix(t, "#") {
			continue
		}
		doc.Summary = docstring(lines, i)

		break
	}

	classIndent := -1
	for i, l := range lines {
		if m := pyClass.FindStringSubmatch(l); m != nil {
			classIndent = len(m[1])
			doc.Items = append(doc.Items, Item{
				Kind:      KindClass,
				Name:      m[2],
				Signature: "class " + m[2] + m[3],
				Doc:       docstring(lines, i+1),
				Line:      i + 1,
			})

			continue
		}
		if m := pyDef.FindStringSubmatch(l); m != nil {
			indent := len(m[1])
			kind := KindFunction
			name := m[2]
			if classIndent >= 0 && indent > classIndent {
				kind = KindMethod
			} else {
				classIndent = -1
			}
			if strings.HasPrefix(name, "_") && name != "__init__" {
				continue
			}
			doc.Items = append(doc.Items, Item{
				Kind:      kind,
				Name:      name,
				Signature: "def " + name + "(" + strings.TrimSpace(m[3]) + ")",
				Doc:       docstring(lines, i+1),
				Line:      i + 1,
			})
		}
	}
}
