package distribution

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
)

// CSVFilename is the attachment name of the CSV report.
const CSVFilename = "amount_distribution.csv"

// WriteCSV writes the report for matrix: the receiver view followed by a
// blank row and the contributor view. Contributors appear in the order they
// are first seen.
func WriteCSV(w io.Writer, matrix []GroupResult) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	rows := [][]string{
		{"Amount Distribution Report"},
		{"Receiver Group", "Receiver Member", "Contributor", "Amount (₹)"},
	}
	for _, g := range matrix {
		for _, m := range g.Members {
			for _, d := range m.Details {
				rows = append(rows, []string{g.GroupName, m.Receiver, d.Contributor, formatAmount(d.Amount)})
			}
		}
	}
	rows = append(rows,
		[]string{},
		[]string{"Contributor View"},
		[]string{"Contributor", "Receiver Group / Member", "Amount (₹)"},
	)
	for _, c := range contributorView(matrix) {
		rows = append(rows, []string{c.contributor, c.receiver, formatAmount(c.amount)})
	}

	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

type contribution struct {
	contributor string
	receiver    string
	amount      float64
}

// contributorView regroups matrix by contributor, in the order contributors
// are first seen.
func contributorView(matrix []GroupResult) []contribution {
	var order []string
	byContributor := make(map[string][]contribution)
	for _, g := range matrix {
		for _, m := range g.Members {
			for _, d := range m.Details {
				if _, ok := byContributor[d.Contributor]; !ok {
					order = append(order, d.Contributor)
				}
				byContributor[d.Contributor] = append(byContributor[d.Contributor], contribution{
					contributor: d.Contributor,
					receiver:    g.GroupName + " - " + m.Receiver,
					amount:      d.Amount,
				})
			}
		}
	}
	view := make([]contribution, 0, len(order))
	for _, c := range order {
		view = append(view, byContributor[c]...)
	}
	return view
}

// formatAmount renders a float the way the report always has: shortest
// round-trip digits, with ".0" on whole numbers and scientific notation for
// decimal exponents below -4 or from 16 up.
func formatAmount(f float64) string {
	e := strconv.FormatFloat(f, 'e', -1, 64)
	if i := strings.LastIndexByte(e, 'e'); i >= 0 {
		if exp, err := strconv.Atoi(e[i+1:]); err == nil && f != 0 && (exp < -4 || exp >= 16) {
			return e
		}
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
