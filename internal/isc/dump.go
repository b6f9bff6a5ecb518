package isc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/thatsimonsguy/hydronic-controller/internal/timekeep"
)

// Dump renders nodes in canonical form: tab indentation, one statement
// per line, double-quoted strings, compound durations. Parsing the output
// reproduces the same tree.
func Dump(nodes []*Node) string {
	var b strings.Builder
	for _, n := range nodes {
		dumpNode(&b, n, 0)
	}
	return b.String()
}

func dumpNode(b *strings.Builder, n *Node, depth int) {
	indent := strings.Repeat("\t", depth)
	b.WriteString(indent)
	b.WriteString(n.Key)
	if n.Label != "" {
		fmt.Fprintf(b, " %q", n.Label)
	}
	switch n.Kind {
	case KindBlock:
		b.WriteString(" {\n")
		for _, c := range n.Children {
			dumpNode(b, c, depth+1)
		}
		b.WriteString(indent)
		b.WriteString("};\n")
	case KindBool:
		if n.Bool {
			b.WriteString(" yes;\n")
		} else {
			b.WriteString(" no;\n")
		}
	case KindInt:
		fmt.Fprintf(b, " %d;\n", n.Int)
	case KindFloat:
		b.WriteString(" ")
		b.WriteString(formatFloat(n.Float))
		b.WriteString(";\n")
	case KindString:
		fmt.Fprintf(b, " %q;\n", n.Str)
	case KindDuration:
		b.WriteString(" ")
		b.WriteString(timekeep.FormatDuration(n.Duration))
		b.WriteString(";\n")
	}
}

// formatFloat always keeps a decimal point so the value reparses as a
// float, never as an integer.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}
