package dag

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// WriteDot renders the graph in Graphviz dot format. Edges point from a
// dependency to its dependent. Jobs that will not run are drawn dashed.
func (g *Graph) WriteDot(w io.Writer) error {
	bw := bufio.NewWriter(w)

	ruleIndex := make(map[string]int)
	for _, j := range g.jobs {
		if _, ok := ruleIndex[j.Rule.Name]; !ok {
			ruleIndex[j.Rule.Name] = len(ruleIndex)
		}
	}

	fmt.Fprintln(bw, "digraph burstmake_dag {")
	fmt.Fprintln(bw, "    graph[bgcolor=white, margin=0];")
	fmt.Fprintln(bw, "    node[shape=box, style=rounded, fontname=sans, fontsize=10, penwidth=2];")
	fmt.Fprintln(bw, "    edge[penwidth=2, color=grey];")

	for _, j := range g.jobs {
		style := "rounded"
		if j.Status == Skipped {
			style = "rounded,dashed"
		}
		hue := 0.0
		if n := len(ruleIndex); n > 0 {
			hue = float64(ruleIndex[j.Rule.Name]) / float64(n)
		}
		fmt.Fprintf(bw, "    %d[label = %q, color = \"%.2f 0.6 0.85\", style=%q];\n", j.seq, dotLabel(j), hue, style)
	}
	for _, j := range g.jobs {
		for _, d := range j.Deps {
			fmt.Fprintf(bw, "    %d -> %d\n", d.seq, j.seq)
		}
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}

func dotLabel(j *Job) string {
	var sb strings.Builder
	sb.WriteString(j.Rule.Name)
	for _, name := range j.Wildcards.Names() {
		fmt.Fprintf(&sb, "\n%s: %s", name, j.Wildcards[name])
	}
	return sb.String()
}
