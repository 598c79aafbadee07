package l2

import "strconv"

func formatVersion(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseVersion(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
