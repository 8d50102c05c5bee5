package gap

import (
	"sort"
	"strings"
	"time"
)

// KnowledgeGraph is the assembled view of who knows what, built
// deterministically from structured summaries. Node keys are lowercase.
type KnowledgeGraph struct {
	People  map[string]*PersonNode
	Systems map[string]*SystemNode
	Topics  map[string]*TopicNode
	Docs    map[string]*DocNode
}

type PersonNode struct {
	Name    string
	Docs    []string
	Systems map[string]int // system key -> co-mention count
	Topics  map[string]int
}

type SystemNode struct {
	Name   string
	Docs   []string
	People map[string]int
	LastAt time.Time
}

type TopicNode struct {
	Name   string
	Docs   []string
	People map[string]int
	LastAt time.Time
}

type DocNode struct {
	DocID     string
	Title     string
	At        time.Time
	Decisions []string
	Processes []string
	Actions   []string
	People    []string
	Systems   []string
}

// BuildGraph assembles the knowledge graph from the prepared corpus.
// Documents without a structured summary contribute only a DocNode.
func BuildGraph(c *PreparedCorpus) *KnowledgeGraph {
	g := &KnowledgeGraph{
		People:  map[string]*PersonNode{},
		Systems: map[string]*SystemNode{},
		Topics:  map[string]*TopicNode{},
		Docs:    map[string]*DocNode{},
	}

	for _, d := range c.Docs {
		node := &DocNode{DocID: d.DocID, Title: d.Title, At: d.At}
		g.Docs[d.DocID] = node
		if d.Summary == nil {
			continue
		}

		node.Decisions = d.Summary.Decisions
		node.Processes = d.Summary.Processes
		node.Actions = d.Summary.ActionItems
		node.People = d.Summary.Entities.People
		node.Systems = d.Summary.Entities.Systems

		for _, p := range d.Summary.Entities.People {
			key := nodeKey(p)
			if key == "" {
				continue
			}
			pn := g.People[key]
			if pn == nil {
				pn = &PersonNode{Name: p, Systems: map[string]int{}, Topics: map[string]int{}}
				g.People[key] = pn
			}
			pn.Docs = append(pn.Docs, d.DocID)
		}

		for _, s := range d.Summary.Entities.Systems {
			key := nodeKey(s)
			if key == "" {
				continue
			}
			sn := g.Systems[key]
			if sn == nil {
				sn = &SystemNode{Name: s, People: map[string]int{}}
				g.Systems[key] = sn
			}
			sn.Docs = append(sn.Docs, d.DocID)
			if d.At.After(sn.LastAt) {
				sn.LastAt = d.At
			}
			for _, p := range d.Summary.Entities.People {
				pk := nodeKey(p)
				if pk == "" {
					continue
				}
				sn.People[pk]++
				g.People[pk].Systems[key]++
			}
		}

		for _, t := range d.Summary.KeyTopics {
			key := nodeKey(t)
			if key == "" {
				continue
			}
			tn := g.Topics[key]
			if tn == nil {
				tn = &TopicNode{Name: t, People: map[string]int{}}
				g.Topics[key] = tn
			}
			tn.Docs = append(tn.Docs, d.DocID)
			if d.At.After(tn.LastAt) {
				tn.LastAt = d.At
			}
			for _, p := range d.Summary.Entities.People {
				pk := nodeKey(p)
				if pk == "" {
					continue
				}
				tn.People[pk]++
				g.People[pk].Topics[key]++
			}
		}
	}

	for _, pn := range g.People {
		pn.Docs = dedupe(pn.Docs)
	}
	for _, sn := range g.Systems {
		sn.Docs = dedupe(sn.Docs)
	}
	for _, tn := range g.Topics {
		tn.Docs = dedupe(tn.Docs)
	}
	return g
}

// sortedKeys keeps analyzer output deterministic.
func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func nodeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
