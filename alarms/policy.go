package alarms

import (
	"fmt"

	"github.com/cyp0633/libremind/occurrence"
)

// OldAlarmPolicy decides which overdue alarms are activated when a search
// finds several at once, e.g. after the process was not running.
type OldAlarmPolicy interface {
	Choose(candidates []ActiveAlarm) []ActiveAlarm
}

// PolicyFunc adapts a function to OldAlarmPolicy
type PolicyFunc func(candidates []ActiveAlarm) []ActiveAlarm

// Choose implements OldAlarmPolicy
func (f PolicyFunc) Choose(candidates []ActiveAlarm) []ActiveAlarm {
	return f(candidates)
}

// ActivateAll activates every overdue alarm
var ActivateAll OldAlarmPolicy = PolicyFunc(func(candidates []ActiveAlarm) []ActiveAlarm {
	return candidates
})

// LatestPerItem activates only the most recent overdue occurrence of each
// item, so a daily reminder missed for a week rings once.
var LatestPerItem OldAlarmPolicy = PolicyFunc(func(candidates []ActiveAlarm) []ActiveAlarm {
	latest := make(map[occurrence.ItemKey]int, len(candidates))
	for i, c := range candidates {
		j, seen := latest[c.Item]
		if !seen || c.Start > candidates[j].Start {
			latest[c.Item] = i
		}
	}
	out := make([]ActiveAlarm, 0, len(latest))
	for i, c := range candidates {
		if latest[c.Item] == i {
			out = append(out, c)
		}
	}
	return out
})

// Policy names accepted by ParsePolicy
const (
	PolicyActivateAll   = "all"
	PolicyLatestPerItem = "latest-per-item"
)

// ParsePolicy maps a configuration name onto a policy
func ParsePolicy(name string) (OldAlarmPolicy, error) {
	switch name {
	case "", PolicyActivateAll:
		return ActivateAll, nil
	case PolicyLatestPerItem:
		return LatestPerItem, nil
	default:
		return nil, fmt.Errorf("unknown old alarm policy %q", name)
	}
}
