package worker

import (
	"fmt"
	"strconv"

	"github.com/workforce-oss/workforce-sub002/internal/objects"
)

// DefaultWIPLimit applies to workers that do not configure one.
const DefaultWIPLimit = 1

// Settings are the worker specific variables of a worker config.
type Settings struct {
	// ChannelUserConfig maps a channel subtype to the credential holding
	// the worker's token on that kind of channel.
	ChannelUserConfig map[string]string
	Skills            []string
	WIPLimit          int
}

// SettingsOf reads channel_user_config, skills and wip_limit from the
// config variables.
func SettingsOf(cfg objects.Config) Settings {
	s := Settings{
		ChannelUserConfig: map[string]string{},
		WIPLimit:          DefaultWIPLimit,
	}
	switch v := cfg.Variables["channel_user_config"].(type) {
	case map[string]string:
		for k, cred := range v {
			s.ChannelUserConfig[k] = cred
		}
	case map[string]any:
		for k, cred := range v {
			if str, ok := cred.(string); ok {
				s.ChannelUserConfig[k] = str
			}
		}
	}
	switch v := cfg.Variables["skills"].(type) {
	case []string:
		s.Skills = append(s.Skills, v...)
	case []any:
		for _, skill := range v {
			s.Skills = append(s.Skills, fmt.Sprint(skill))
		}
	}
	if n, ok := toInt(cfg.Variables["wip_limit"]); ok {
		s.WIPLimit = n
	}
	return s
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}
