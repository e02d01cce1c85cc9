package topic

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

type node struct {
	path    string // one level of a topic filter
	pattern string // the full filter when a subscription ends at this node
	next    map[string]*node
}

func newNode(path string) *node {
	return &node{path: path, next: make(map[string]*node)}
}

func (n *node) print(w io.Writer, m int) {
	fmt.Fprintf(w, "%spath=%s, pattern=%q\n", strings.Repeat("\t", m), n.path, n.pattern)
	for _, path := range n.paths() {
		n.next[path].print(w, m+1)
	}
}

// add inserts filter and reports whether it was new.
func (n *node) add(filter string) bool {
	current := n
	for _, level := range strings.Split(filter, "/") {
		next, ok := current.next[level]
		if !ok {
			next = newNode(level)
			current.next[level] = next
		}
		current = next
	}
	if current.pattern == filter {
		return false
	}
	current.pattern = filter
	return true
}

// remove deletes filter and prunes branches left without subscriptions.
func (n *node) remove(levels []string, filter string) bool {
	if len(levels) == 0 {
		if n.pattern != filter {
			return false
		}
		n.pattern = ""
		return true
	}
	next, ok := n.next[levels[0]]
	if !ok {
		return false
	}
	if !next.remove(levels[1:], filter) {
		return false
	}
	if next.pattern == "" && len(next.next) == 0 {
		delete(n.next, levels[0])
	}
	return true
}

// find collects every filter that matches the remaining topic levels.
func (n *node) find(levels []string, subs []string) []string {
	// "sport/tennis/#" also matches "sport/tennis" [MQTT-4.7.1-2].
	if next, ok := n.next["#"]; ok && next.pattern != "" {
		subs = append(subs, next.pattern)
	}
	if len(levels) == 0 {
		if n.pattern != "" {
			subs = append(subs, n.pattern)
		}
		return subs
	}
	if next, ok := n.next[levels[0]]; ok {
		subs = next.find(levels[1:], subs)
	}
	if next, ok := n.next["+"]; ok {
		subs = next.find(levels[1:], subs)
	}
	return subs
}

func (n *node) paths() []string {
	var v []string
	for k := range n.next {
		v = append(v, k)
	}
	sort.Strings(v)
	return v
}

// MemoryTrie indexes topic filters by level so a topic name can be matched against
// all of them in one walk. It is safe for concurrent use.
type MemoryTrie struct {
	m     sync.RWMutex
	root  *node // 主题过滤树
	count int
}

func NewMemoryTrie() *MemoryTrie {
	return &MemoryTrie{
		root: newNode(""),
	}
}

// Fprint dumps the tree to w, one node per line, children indented.
func (m *MemoryTrie) Fprint(w io.Writer) {
	m.m.RLock()
	defer m.m.RUnlock()
	m.root.print(w, 0)
}

// Subscribe adds filter. Adding a filter twice is a no-op.
func (m *MemoryTrie) Subscribe(filter string) error {
	if err := ValidateFilter(filter); err != nil {
		return err
	}
	m.m.Lock()
	defer m.m.Unlock()
	if m.root.add(filter) {
		m.count++
	}
	return nil
}

// Unsubscribe removes filter and reports whether it was present.
func (m *MemoryTrie) Unsubscribe(filter string) bool {
	m.m.Lock()
	defer m.m.Unlock()
	if !m.root.remove(strings.Split(filter, "/"), filter) {
		return false
	}
	m.count--
	return true
}

// Match returns the subscribed filters matching topic, without duplicates.
func (m *MemoryTrie) Match(topic string) []string {
	m.m.RLock()
	defer m.m.RUnlock()

	levels := strings.Split(topic, "/")
	// Wildcards at the first level never match a topic starting with '$' [MQTT-4.7.2-1].
	if strings.HasPrefix(topic, "$") {
		next, ok := m.root.next[levels[0]]
		if !ok {
			return nil
		}
		return next.find(levels[1:], nil)
	}
	return m.root.find(levels, nil)
}

// Len returns the number of subscribed filters.
func (m *MemoryTrie) Len() int {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.count
}
