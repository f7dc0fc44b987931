package codeagent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/parlowe/omni/core"
)

// The model's output format is not contractually guaranteed, so both
// parsers are lenient: malformed or partial matches degrade to a
// best-effort single blob instead of failing.

var (
	fileMarkerRe = regexp.MustCompile(`(?m)^File:[ \t]*(.+?)[ \t]*$`)
	fencedRe     = regexp.MustCompile("(?s)```([A-Za-z0-9+#_-]*)[ \t]*\n(.*?)\n?```")
	commentDirRe = regexp.MustCompile(`^(?://|#|--|/\*|<!--)\s*([\w./\\-]+\.\w+)\s*(?:\*/|-->)?\s*$`)
	bareFileRe   = regexp.MustCompile("^(?:File:\\s*)?`?([\\w./\\\\-]+\\.\\w+)`?:?$")
)

// ParseEditResponse maps a model response back onto the in-scope file
// set using repeating "File: <path>" marker sections. When the response
// carries no markers and exactly one file is in scope, the whole
// response becomes that file's new content. Paths outside the in-scope
// set are dropped, and an empty in-scope set yields no files at all:
// an edit never invents files.
func ParseEditResponse(text string, inScope map[string]core.FileContext) []core.FileContext {
	if len(inScope) == 0 {
		return nil
	}
	markers := fileMarkerRe.FindAllStringSubmatchIndex(text, -1)
	if len(markers) == 0 {
		if len(inScope) == 1 {
			for path := range inScope {
				return []core.FileContext{{
					Path:     path,
					Content:  stripFence(text),
					Language: InferLanguage(path),
				}}
			}
		}
		return nil
	}

	var out []core.FileContext
	for i, m := range markers {
		path := cleanPath(text[m[2]:m[3]])
		if path == "" {
			continue
		}
		if _, ok := inScope[path]; !ok {
			continue
		}
		end := len(text)
		if i+1 < len(markers) {
			end = markers[i+1][0]
		}
		body := stripFence(text[m[1]:end])
		out = append(out, core.FileContext{
			Path:     path,
			Content:  body,
			Language: InferLanguage(path),
		})
	}
	return out
}

// ParseCreateResponse extracts fenced code blocks into new files. A
// block's path comes from a leading comment directive or the line
// preceding the fence; blocks without a discoverable path get a
// generated placeholder name instead of being discarded. A response
// with no fenced blocks at all becomes one plain-text file.
func ParseCreateResponse(text string) []core.FileContext {
	blocks := fencedRe.FindAllStringSubmatchIndex(text, -1)
	if len(blocks) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []core.FileContext{{Path: "new_file_1.txt", Content: trimmed, Language: "text"}}
	}

	var out []core.FileContext
	unnamed := 0
	for _, b := range blocks {
		language := strings.ToLower(text[b[2]:b[3]])
		body := text[b[4]:b[5]]

		path, body := discoverPath(text, b[0], body)
		if path == "" {
			unnamed++
			ext := extensionFor(language)
			path = fmt.Sprintf("new_file_%d%s", unnamed, ext)
		}
		if language == "" {
			language = InferLanguage(path)
		}
		out = append(out, core.FileContext{
			Path:     path,
			Content:  body,
			Language: language,
		})
	}
	return out
}

// discoverPath looks for a file path in the block's first line comment
// directive, then in the non-empty line just above the fence. It
// returns the path (or "") and the body with any consumed directive
// line removed.
func discoverPath(source string, fenceStart int, body string) (string, string) {
	firstLine, rest, hasMore := strings.Cut(body, "\n")
	if m := commentDirRe.FindStringSubmatch(strings.TrimSpace(firstLine)); m != nil {
		if hasMore {
			return m[1], rest
		}
		return m[1], ""
	}

	preceding := previousLine(source, fenceStart)
	if m := bareFileRe.FindStringSubmatch(preceding); m != nil {
		return m[1], body
	}
	return "", body
}

func previousLine(source string, offset int) string {
	head := strings.TrimRight(source[:offset], "\n")
	if idx := strings.LastIndexByte(head, '\n'); idx >= 0 {
		head = head[idx+1:]
	}
	return strings.TrimSpace(head)
}

func cleanPath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "`'\"*")
}

// stripFence removes one surrounding fenced code block, if present, so
// edit bodies written as fences come back as raw file content.
func stripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	_, rest, ok := strings.Cut(trimmed, "\n")
	if !ok {
		return trimmed
	}
	rest = strings.TrimSuffix(strings.TrimRight(rest, "\n \t"), "```")
	return strings.TrimRight(rest, "\n")
}
