package server

import (
	"regexp"
)

var fileIDRegex = regexp.MustCompile(`^fi-[0-9a-z]{8}$`)

func validateFileID(id string) bool {
	return fileIDRegex.MatchString(id)
}
