package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Config declares a pipeline DAG.
type Config struct {
	Version    string       `json:"version"`
	Nodes      []NodeConfig `json:"nodes"`
	Edges      []EdgeConfig `json:"edges"`
	Entrypoint string       `json:"entrypoint,omitempty"`
}

// NodeConfig declares one node of the DAG.
type NodeConfig struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// EdgeConfig declares one directed edge, optionally gated by a condition
// expression.
type EdgeConfig struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Condition string `json:"condition,omitempty"`
}

var (
	ErrInvalidGraph     = errors.New("invalid pipeline graph")
	ErrCyclicDependency = errors.New("cyclic dependency")
)

// edge pairs a neighbor node with the connecting edge's condition.
type edge struct {
	nodeID    string
	condition string
}

// Graph is a validated DAG built from a Config.
type Graph struct {
	config     Config
	nodeConfig map[string]NodeConfig
	nodeOrder  []string
	adjacency  map[string][]edge
	reverse    map[string][]edge
	inDegree   map[string]int
	entrypoint string
}

// NewGraph validates the config: every edge endpoint must be declared,
// no directed cycle may exist, and an entrypoint must be resolvable.
func NewGraph(cfg Config) (*Graph, error) {
	g := &Graph{
		config:     cfg,
		nodeConfig: make(map[string]NodeConfig, len(cfg.Nodes)),
		adjacency:  map[string][]edge{},
		reverse:    map[string][]edge{},
		inDegree:   map[string]int{},
	}

	if len(cfg.Nodes) == 0 {
		return nil, fmt.Errorf("%w: no nodes declared", ErrInvalidGraph)
	}

	for _, node := range cfg.Nodes {
		if node.ID == "" {
			return nil, fmt.Errorf("%w: node with empty id", ErrInvalidGraph)
		}
		if _, dup := g.nodeConfig[node.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %q", ErrInvalidGraph, node.ID)
		}
		g.nodeConfig[node.ID] = node
		g.nodeOrder = append(g.nodeOrder, node.ID)
		g.inDegree[node.ID] = 0
	}

	for _, e := range cfg.Edges {
		if _, ok := g.nodeConfig[e.Source]; !ok {
			return nil, fmt.Errorf("%w: edge source %q not declared", ErrInvalidGraph, e.Source)
		}
		if _, ok := g.nodeConfig[e.Target]; !ok {
			return nil, fmt.Errorf("%w: edge target %q not declared", ErrInvalidGraph, e.Target)
		}
		g.adjacency[e.Source] = append(g.adjacency[e.Source], edge{e.Target, e.Condition})
		g.reverse[e.Target] = append(g.reverse[e.Target], edge{e.Source, e.Condition})
		g.inDegree[e.Target]++
	}

	if err := g.detectCycle(); err != nil {
		return nil, err
	}

	entry, err := g.resolveEntrypoint(cfg.Entrypoint)
	if err != nil {
		return nil, err
	}
	g.entrypoint = entry

	return g, nil
}

// detectCycle walks the graph depth-first with three-color marking and
// reports the cycle path when one exists.
func (g *Graph) detectCycle() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.nodeOrder))
	var path []string

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			start := 0
			for i, p := range path {
				if p == id {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, path[start:]...), id)
			return fmt.Errorf("%w: %s", ErrCyclicDependency, strings.Join(cycle, " -> "))
		case done:
			return nil
		}

		state[id] = visiting
		path = append(path, id)
		for _, e := range g.adjacency[id] {
			if err := visit(e.nodeID); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[id] = done
		return nil
	}

	for _, id := range g.nodeOrder {
		if state[id] == unvisited {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveEntrypoint picks the run entrypoint: an explicit one must be
// declared; otherwise the first node in config order with no predecessors.
func (g *Graph) resolveEntrypoint(explicit string) (string, error) {
	if explicit != "" {
		if _, ok := g.nodeConfig[explicit]; !ok {
			return "", fmt.Errorf("%w: entrypoint %q not declared", ErrInvalidGraph, explicit)
		}
		return explicit, nil
	}

	for _, id := range g.nodeOrder {
		if g.inDegree[id] == 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no entry node, every node has a predecessor", ErrInvalidGraph)
}

// TopologicalOrder returns the node ids in Kahn order. Ties resolve in
// config declaration order, so the result is deterministic.
func (g *Graph) TopologicalOrder() []string {
	inDegree := make(map[string]int, len(g.inDegree))
	for id, d := range g.inDegree {
		inDegree[id] = d
	}

	var queue []string
	for _, id := range g.nodeOrder {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(g.nodeOrder))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, e := range g.adjacency[id] {
			inDegree[e.nodeID]--
			if inDegree[e.nodeID] == 0 {
				queue = append(queue, e.nodeID)
			}
		}
	}
	return order
}

// Predecessors returns the incoming edges of a node.
func (g *Graph) Predecessors(nodeID string) []edge {
	return g.reverse[nodeID]
}

// Successors returns the outgoing edges of a node.
func (g *Graph) Successors(nodeID string) []edge {
	return g.adjacency[nodeID]
}

// Entrypoint returns the resolved entry node id.
func (g *Graph) Entrypoint() string {
	return g.entrypoint
}

// NodeIDs returns all node ids in declaration order.
func (g *Graph) NodeIDs() []string {
	return g.nodeOrder
}

// NodeConfigByID returns the declaration for a node id.
func (g *Graph) NodeConfigByID(id string) (NodeConfig, bool) {
	cfg, ok := g.nodeConfig[id]
	return cfg, ok
}
