package token

import "strconv"

func formatUserID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseUserID(sub string) (int64, error) {
	return strconv.ParseInt(sub, 10, 64)
}
