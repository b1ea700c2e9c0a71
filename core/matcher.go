package core

import (
	"sort"
	"strings"
)

// TopicMatcher determines whether a subscription pattern matches a given topic.
type TopicMatcher interface {
	Match(pattern string, topic string) bool
}

// DefaultMatcher supports exact matching, single-level wildcard (*),
// and multi-level wildcard (#) over dot-separated topic names.
//
//	"orders.created" matches "orders.created"
//	"orders.*"       matches "orders.created", not "orders.us.created"
//	"payments.#"     matches "payments.created" and "payments.us.created"
type DefaultMatcher struct{}

func (DefaultMatcher) Match(pattern, topic string) bool {
	return matchLevels(strings.Split(pattern, "."), strings.Split(topic, "."))
}

func matchLevels(pat, top []string) bool {
	for len(pat) > 0 && len(top) > 0 {
		switch pat[0] {
		case "#":
			if len(pat) == 1 {
				return true
			}
			// # in the middle swallows zero or more levels
			for i := 0; i <= len(top); i++ {
				if matchLevels(pat[1:], top[i:]) {
					return true
				}
			}
			return false
		case "*":
		default:
			if pat[0] != top[0] {
				return false
			}
		}
		pat, top = pat[1:], top[1:]
	}
	return len(pat) == 0 && len(top) == 0
}

// routeTable resolves the handler for a topic. Exact patterns win over
// wildcard patterns; wildcards are tried in lexical order.
type routeTable struct {
	exact    map[string]HandlerFunc
	patterns []string
	wild     map[string]HandlerFunc
	matcher  TopicMatcher
}

func newRouteTable(routes map[string]HandlerFunc, matcher TopicMatcher) *routeTable {
	rt := &routeTable{
		exact:   make(map[string]HandlerFunc),
		wild:    make(map[string]HandlerFunc),
		matcher: matcher,
	}
	for pattern, h := range routes {
		if strings.ContainsAny(pattern, "*#") {
			rt.wild[pattern] = h
			rt.patterns = append(rt.patterns, pattern)
			continue
		}
		rt.exact[pattern] = h
	}
	sort.Strings(rt.patterns)
	return rt
}

func (rt *routeTable) lookup(topic string) (HandlerFunc, bool) {
	if h, ok := rt.exact[topic]; ok {
		return h, true
	}
	for _, p := range rt.patterns {
		if rt.matcher.Match(p, topic) {
			return rt.wild[p], true
		}
	}
	return nil, false
}
