package roblox

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/passgate/passgate/internal/pkg/apperr"
)

var (
	gamePassPathRe   = regexp.MustCompile(`(?i)(?:game-pass|gamepass|catalog)/(\d+)`)
	gamePassQueryRe  = regexp.MustCompile(`(?:^|[?&])id=(\d+)`)
	experiencePathRe = regexp.MustCompile(`(?i)(?:games|experiences)/(\d+)`)
	experienceQuery  = regexp.MustCompile(`(?:^|[?&])placeId=(\d+)`)
)

// ParseGamePassID accepts a numeric id or a Game Pass / catalog URL.
func ParseGamePassID(input string) (int64, error) {
	if id, ok := parseID(input, gamePassPathRe, gamePassQueryRe); ok {
		return id, nil
	}
	return 0, apperr.Validation("invalid_item_id", "invalid game pass id %q", input)
}

// ParseExperienceID accepts a numeric id or an experience URL.
func ParseExperienceID(input string) (int64, error) {
	if id, ok := parseID(input, experiencePathRe, experienceQuery); ok {
		return id, nil
	}
	return 0, apperr.Validation("invalid_experience_id", "invalid experience id %q", input)
}

func parseID(input string, patterns ...*regexp.Regexp) (int64, bool) {
	s := strings.TrimSpace(input)
	for _, re := range patterns {
		if m := re.FindStringSubmatch(s); m != nil {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil && id > 0 {
				return id, true
			}
		}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
