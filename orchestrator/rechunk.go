package orchestrator

// Rechunk splits text into pieces of at most size runes. Splitting is
// rune-safe so multibyte characters never straddle a boundary, and the
// concatenation of the pieces always reproduces the input exactly.
func Rechunk(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	pieces := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}
