package codeagent

import (
	"path"
	"strings"
)

var extLanguages = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".rs":   "rust",
	".java": "java",
	".rb":   "ruby",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cs":   "csharp",
	".sh":   "shell",
	".html": "html",
	".css":  "css",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".sql":  "sql",
	".md":   "markdown",
}

var languageExts = map[string]string{
	"go":         ".go",
	"python":     ".py",
	"javascript": ".js",
	"typescript": ".ts",
	"rust":       ".rs",
	"java":       ".java",
	"ruby":       ".rb",
	"c":          ".c",
	"cpp":        ".cpp",
	"csharp":     ".cs",
	"shell":      ".sh",
	"bash":       ".sh",
	"html":       ".html",
	"css":        ".css",
	"json":       ".json",
	"yaml":       ".yaml",
	"sql":        ".sql",
	"markdown":   ".md",
}

// InferLanguage derives a language identifier from a file path, falling
// back to "text".
func InferLanguage(filePath string) string {
	if lang, ok := extLanguages[strings.ToLower(path.Ext(filePath))]; ok {
		return lang
	}
	return "text"
}

// extensionFor returns the placeholder file extension for a fenced-block
// language tag.
func extensionFor(language string) string {
	if ext, ok := languageExts[strings.ToLower(language)]; ok {
		return ext
	}
	return ".txt"
}
