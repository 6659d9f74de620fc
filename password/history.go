package password

// HistoryDepth is how many previous hashes, besides the current one, a new
// password is checked against.
const HistoryDepth = 3

// IsReused reports whether pw matches current or any hash in history. A hash
// that fails to verify counts as a match so a corrupted record can never let
// a reused password through.
func IsReused(h Hasher, pw, current string, history []string) bool {
	candidates := make([]string, 0, len(history)+1)
	if current != "" {
		candidates = append(candidates, current)
	}
	candidates = append(candidates, history...)

	for _, encoded := range candidates {
		if encoded == "" {
			continue
		}
		ok, err := h.Verify(pw, encoded)
		if err != nil || ok {
			return true
		}
	}
	return false
}
