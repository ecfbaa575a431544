package main

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/danmuck/xlloop/internal/protocol"
)

var rangePattern = regexp.MustCompile(`^R(\d+)C(\d+)(?::R(\d+)C(\d+))?$`)

// parseArg reads one command-line argument as a value:
//
//	""            missing
//	nil           nil
//	3, -1.5e3     number
//	TRUE, false   boolean
//	#N/A          error
//	{1,2;3,4}     array, ';' between rows
//	"quoted"      text, quotes removed
//	anything else text
func parseArg(raw string) (protocol.Value, error) {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return protocol.Missing{}, nil
	case strings.EqualFold(s, "nil"):
		return protocol.Nil{}, nil
	case strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}"):
		return parseArray(s[1 : len(s)-1])
	case len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"':
		return protocol.Text(s[1 : len(s)-1]), nil
	}
	return parseScalar(s), nil
}

func parseScalar(s string) protocol.Value {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return protocol.Number(f)
	}
	switch strings.ToUpper(s) {
	case "TRUE":
		return protocol.Boolean(true)
	case "FALSE":
		return protocol.Boolean(false)
	}
	if code, ok := protocol.ParseErrorCode(s); ok {
		return protocol.Err(code)
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return protocol.Text(s[1 : len(s)-1])
	}
	return protocol.Text(s)
}

func parseArray(body string) (protocol.Value, error) {
	if strings.TrimSpace(body) == "" {
		return protocol.Array{}, nil
	}
	rowTexts := strings.Split(body, ";")
	if len(rowTexts) == 1 {
		return protocol.Array{protocol.Array(splitCells(rowTexts[0]))}, nil
	}
	rows := make(protocol.Array, 0, len(rowTexts))
	width := -1
	for i, rt := range rowTexts {
		cells := splitCells(rt)
		if width >= 0 && len(cells) != width {
			return nil, fmt.Errorf("array row %d has %d cells, want %d", i+1, len(cells), width)
		}
		width = len(cells)
		rows = append(rows, protocol.Array(cells))
	}
	return rows, nil
}

func splitCells(row string) []protocol.Value {
	parts := strings.Split(row, ",")
	cells := make([]protocol.Value, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			cells[i] = protocol.Nil{}
			continue
		}
		cells[i] = parseScalar(p)
	}
	return cells
}

// parseRange reads R1C1 or R1C1:R2C2 notation into a zero-based reference.
func parseRange(s string) (protocol.RangeRef, error) {
	m := rangePattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil {
		return protocol.RangeRef{}, fmt.Errorf("invalid range %q, want R1C1 or R1C1:R2C2", s)
	}
	if m[3] == "" {
		m[3], m[4] = m[1], m[2]
	}
	n := make([]int32, 4)
	for i := range n {
		v, err := strconv.ParseInt(m[i+1], 10, 32)
		if err != nil || v < 1 {
			return protocol.RangeRef{}, fmt.Errorf("invalid range %q", s)
		}
		n[i] = int32(v - 1)
	}
	return protocol.RangeRef{RowFirst: n[0], ColFirst: n[1], RowLast: n[2], ColLast: n[3]}, nil
}

// formatResult renders a value for the terminal. Arrays print one row per
// line with tab-separated cells.
func formatResult(v protocol.Value) string {
	rows, ok := v.(protocol.Array)
	if !ok {
		if t, isTuple := v.(protocol.Tuple); isTuple {
			rows = protocol.Array(t)
		} else {
			return v.String()
		}
	}
	if len(rows) == 0 {
		return "{}"
	}
	lines := make([]string, len(rows))
	for i, row := range rows {
		cells, isRow := row.(protocol.Array)
		if !isRow {
			lines[i] = row.String()
			continue
		}
		parts := make([]string, len(cells))
		for j, c := range cells {
			parts[j] = c.String()
		}
		lines[i] = strings.Join(parts, "\t")
	}
	return strings.Join(lines, "\n")
}
