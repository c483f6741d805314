package watcher

// ShouldSkip reports whether a directory with the given base name is excluded
// from coverage. Matching is exact and independent of depth.
func ShouldSkip(name string, exclusions []string) bool {
	for _, excluded := range exclusions {
		if name == excluded {
			return true
		}
	}
	return false
}
