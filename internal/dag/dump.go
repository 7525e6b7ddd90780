package dag

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DumpedGraph is one graph block read back by ParseDump.
type DumpedGraph struct {
	ID    int
	Name  string
	Nodes []DumpedNode
	Edges []Edge
}

// DumpedNode is one task line of a dump. Module is the id of the composed
// graph block, or -1 for plain tasks.
type DumpedNode struct {
	ID     int
	Name   string
	Module int
}

// Dump writes a textual description of g and of every graph it composes.
// Each distinct graph is written once, in discovery order, with g first:
//
//	graph 0 "pipeline"
//	  node 0 "model[0]" module 1
//	  node 1 "barrier"
//	  edge 0 -> 1
//	end
func (g *Graph) Dump(w io.Writer) error {
	ids := map[*Graph]int{g: 0}
	order := []*Graph{g}

	bw := bufio.NewWriter(w)
	for i := 0; i < len(order); i++ {
		cur := order[i]
		fmt.Fprintf(bw, "graph %d %s\n", i, strconv.Quote(cur.name))
		for _, t := range cur.Tasks() {
			if t.module == nil {
				fmt.Fprintf(bw, "  node %d %s\n", t.id, strconv.Quote(t.name))
				continue
			}
			id, ok := ids[t.module]
			if !ok {
				id = len(order)
				ids[t.module] = id
				order = append(order, t.module)
			}
			fmt.Fprintf(bw, "  node %d %s module %d\n", t.id, strconv.Quote(t.name), id)
		}
		for _, e := range cur.Edges() {
			fmt.Fprintf(bw, "  edge %d -> %d\n", e.From, e.To)
		}
		fmt.Fprintln(bw, "end")
	}
	return bw.Flush()
}

// ParseDump reads the output of Dump.
func ParseDump(r io.Reader) ([]DumpedGraph, error) {
	var (
		graphs []DumpedGraph
		cur    *DumpedGraph
		lineNo int
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		keyword, rest, _ := strings.Cut(line, " ")

		switch keyword {
		case "graph":
			if cur != nil {
				return nil, fmt.Errorf("line %d: graph block opened before previous one ended", lineNo)
			}
			idStr, quoted, _ := strings.Cut(rest, " ")
			id, err := strconv.Atoi(idStr)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid graph id: %w", lineNo, err)
			}
			name, err := strconv.Unquote(quoted)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid graph name: %w", lineNo, err)
			}
			cur = &DumpedGraph{ID: id, Name: name}

		case "node":
			if cur == nil {
				return nil, fmt.Errorf("line %d: node outside graph block", lineNo)
			}
			node, err := parseNode(rest)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			cur.Nodes = append(cur.Nodes, node)

		case "edge":
			if cur == nil {
				return nil, fmt.Errorf("line %d: edge outside graph block", lineNo)
			}
			var e Edge
			if _, err := fmt.Sscanf(rest, "%d -> %d", &e.From, &e.To); err != nil {
				return nil, fmt.Errorf("line %d: invalid edge: %w", lineNo, err)
			}
			cur.Edges = append(cur.Edges, e)

		case "end":
			if cur == nil {
				return nil, fmt.Errorf("line %d: end outside graph block", lineNo)
			}
			graphs = append(graphs, *cur)
			cur = nil

		default:
			return nil, fmt.Errorf("line %d: unknown directive %q", lineNo, keyword)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if cur != nil {
		return nil, fmt.Errorf("graph %d is missing its end line", cur.ID)
	}
	return graphs, nil
}

func parseNode(s string) (DumpedNode, error) {
	idStr, rest, _ := strings.Cut(s, " ")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return DumpedNode{}, fmt.Errorf("invalid node id: %w", err)
	}
	quoted, err := strconv.QuotedPrefix(rest)
	if err != nil {
		return DumpedNode{}, fmt.Errorf("invalid node name: %w", err)
	}
	name, _ := strconv.Unquote(quoted)

	node := DumpedNode{ID: id, Name: name, Module: -1}
	tail := strings.TrimSpace(rest[len(quoted):])
	if tail == "" {
		return node, nil
	}
	if _, err := fmt.Sscanf(tail, "module %d", &node.Module); err != nil {
		return DumpedNode{}, fmt.Errorf("invalid node suffix %q: %w", tail, err)
	}
	return node, nil
}
