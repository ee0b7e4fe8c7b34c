// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of kt-gateway.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package decoder parses upstream timing frames. Two wire formats coexist:
// an initial HTML-grid snapshot carrying the full table including the header
// row, and incremental pipe-delimited deltas updating single cells. The
// decoder never fabricates columns; a raw entry exists only because the feed
// reported it.
package decoder

import (
	"strings"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/ClusterCockpit/kt-gateway/internal/lexicon"
	"github.com/ClusterCockpit/kt-gateway/pkg/schema"
)

// FrameKind discriminates snapshot and delta frames. No mixed frames exist.
type FrameKind int

const (
	FrameDelta FrameKind = iota
	FrameSnapshot
)

func (k FrameKind) String() string {
	if k == FrameSnapshot {
		return "snapshot"
	}
	return "delta"
}

// MappingStatus reports the outcome of header-based mapping inference.
type MappingStatus int

const (
	// MappingNotApplicable: delta frame, or a putative snapshot that
	// carried no parsable grid. Callers treat the frame as a no-op.
	MappingNotApplicable MappingStatus = iota
	// MappingInferred: at least minMappedColumns header cells resolved.
	MappingInferred
	// MappingInferenceFailed: the snapshot header yielded fewer than
	// minMappedColumns columns; the circuit needs manual configuration.
	MappingInferenceFailed
)

// minMappedColumns is the threshold for accepting an inferred mapping.
const minMappedColumns = 3

const gridPrefix = "grid||"

// DecodedFrame is the structured result of decoding one upstream frame.
type DecodedFrame struct {
	Kind          FrameKind
	DriverUpdates map[string]map[schema.ColumnID]schema.RawCell
	// InferredMapping is set only on a snapshot whose header inference
	// succeeded.
	InferredMapping schema.ColumnMapping
	MappingStatus   MappingStatus
}

// Empty reports whether the frame carried no usable driver data.
func (f *DecodedFrame) Empty() bool {
	return len(f.DriverUpdates) == 0
}

// Decode parses one upstream frame. A frame containing the literal marker
// "init" is a snapshot; the older feed generation marks snapshots with
// "grid||" only, so both markers are accepted. Everything else is treated
// as a pipe-delimited delta. Decode never fails: malformed input yields an
// empty frame with MappingNotApplicable.
func Decode(frame string) *DecodedFrame {
	if strings.Contains(frame, "init") || strings.Contains(frame, gridPrefix) {
		return decodeSnapshot(frame)
	}
	return decodeDelta(frame)
}

func decodeDelta(frame string) *DecodedFrame {
	f := &DecodedFrame{
		Kind:          FrameDelta,
		DriverUpdates: make(map[string]map[schema.ColumnID]schema.RawCell),
		MappingStatus: MappingNotApplicable,
	}

	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) != 3 {
			continue
		}

		driverID, col, ok := splitIdent(parts[0])
		if !ok {
			continue
		}

		cells, exists := f.DriverUpdates[driverID]
		if !exists {
			cells = make(map[schema.ColumnID]schema.RawCell)
			f.DriverUpdates[driverID] = cells
		}
		cells[col] = schema.RawCell{Code: parts[1], Value: parts[2]}
	}

	return f
}

// splitIdent parses "r<driver_id>c<column_index>". The driver id is kept as
// an opaque string. Records whose column index falls outside [1, MaxColumns]
// are rejected.
func splitIdent(ident string) (driverID string, col schema.ColumnID, ok bool) {
	if !strings.HasPrefix(ident, "r") {
		return "", "", false
	}

	seg := strings.Split(ident[1:], "c")
	if len(seg) != 2 || seg[0] == "" {
		return "", "", false
	}

	n := schema.ColumnID("C" + seg[1]).Index()
	if n < 1 {
		return "", "", false
	}
	return seg[0], schema.ColumnIDFor(n), true
}

func decodeSnapshot(frame string) *DecodedFrame {
	f := &DecodedFrame{
		Kind:          FrameSnapshot,
		DriverUpdates: make(map[string]map[schema.ColumnID]schema.RawCell),
		MappingStatus: MappingNotApplicable,
	}

	var content string
	for _, line := range strings.Split(frame, "\n") {
		if strings.HasPrefix(line, gridPrefix) {
			content = line[len(gridPrefix):]
			break
		}
	}
	if content == "" {
		cclog.Warn("decoder: no grid|| line found in snapshot frame")
		return f
	}

	rows, err := parseGridRows(content)
	if err != nil {
		cclog.Warnf("decoder: grid HTML parse failed: %v", err)
		return f
	}
	if len(rows) == 0 {
		cclog.Warn("decoder: grid line carried no table rows")
		return f
	}

	var header *gridRow
	for i := range rows {
		if rows[i].id == "r0" {
			header = &rows[i]
			continue
		}
		driverID := strings.TrimPrefix(rows[i].id, "r")
		if driverID == "" || driverID == rows[i].id {
			continue
		}
		cells := decodeDriverRow(&rows[i])
		if len(cells) > 0 {
			f.DriverUpdates[driverID] = cells
		}
	}

	mapping := schema.ColumnMapping{}
	if header != nil {
		mapping = inferMapping(header)
	}
	if len(mapping) >= minMappedColumns {
		f.InferredMapping = mapping
		f.MappingStatus = MappingInferred
	} else {
		cclog.Warnf("decoder: mapping inference failed, only %d columns detected", len(mapping))
		f.MappingStatus = MappingInferenceFailed
	}

	return f
}

// decodeDriverRow reads the row's cells left to right and assigns them
// sequentially to C1, C2, ... Empty cell text still advances the column
// index but writes no entry.
func decodeDriverRow(row *gridRow) map[schema.ColumnID]schema.RawCell {
	cells := make(map[schema.ColumnID]schema.RawCell)
	index := 1
	for _, cell := range row.cells {
		if index > schema.MaxColumns {
			break
		}
		if cell.text == "" {
			index++
			continue
		}
		cells[schema.ColumnIDFor(index)] = schema.RawCell{Code: schema.SnapshotCode, Value: cell.text}
		index++
	}
	return cells
}

// inferMapping resolves each header cell through the lexicon. Unknown terms
// are retained verbatim and logged so the lexicon can be extended later.
func inferMapping(header *gridRow) schema.ColumnMapping {
	mapping := schema.ColumnMapping{}
	var unknown []string

	for _, cell := range header.cells {
		if cell.id == "" || !strings.HasPrefix(cell.id, "c") {
			continue
		}
		n := schema.ColumnID("C" + cell.id[1:]).Index()
		if n < 1 {
			continue
		}
		col := schema.ColumnIDFor(n)

		field, hit := lexicon.Lookup(cell.text)
		if !hit {
			unknown = append(unknown, cell.text)
		}
		mapping[col] = field
	}

	if len(unknown) > 0 {
		cclog.Warnf("decoder: unknown header terms retained verbatim: %q", unknown)
	}
	return mapping
}

type gridCell struct {
	id   string // data-id attribute, e.g. "c3"; empty on driver-row cells
	text string
}

type gridRow struct {
	id    string // data-id attribute, e.g. "r0" or "r141"
	cells []gridCell
}

// parseGridRows parses the tbody fragment of a grid|| line into rows. The
// fragment is parsed in table context so tbody/tr/td survive the HTML5 tree
// construction rules.
func parseGridRows(content string) ([]gridRow, error) {
	table := &html.Node{Type: html.ElementNode, Data: "table", DataAtom: atom.Table}
	nodes, err := html.ParseFragment(strings.NewReader(content), table)
	if err != nil {
		return nil, err
	}

	var rows []gridRow
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Tr {
			row := gridRow{id: attrValue(n, "data-id")}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && c.DataAtom == atom.Td {
					row.cells = append(row.cells, gridCell{
						id:   attrValue(c, "data-id"),
						text: strings.TrimSpace(nodeText(c)),
					})
				}
			}
			rows = append(rows, row)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return rows, nil
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}
