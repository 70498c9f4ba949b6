package streamdiff

// IsAdditiveEdit reports whether old is an in-order character subsequence of
// new, i.e. the edit only adds content. Used to bias hunk grouping toward
// additions. The empty string is a subsequence of everything.
func IsAdditiveEdit(old, new string) bool {
	if len(old) > len(new) {
		return false
	}
	i := 0
	for j := 0; i < len(old) && j < len(new); j++ {
		if old[i] == new[j] {
			i++
		}
	}
	return i == len(old)
}
