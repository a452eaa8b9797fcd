package distribution

import (
	_ "embed"
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"
)

// PDFFilename is the attachment name of the PDF report.
const PDFFilename = "amount_distribution.pdf"

// reportFont carries the rupee sign, which the PDF core fonts lack.
//
//go:embed fonts/DejaVuSansCondensed.ttf
var reportFont []byte

const reportFontFamily = "DejaVu"

var (
	headerFill = [3]int{128, 128, 128}
	headerText = [3]int{245, 245, 245}
	bodyFill   = [3]int{245, 245, 220}
)

// WritePDF writes the report for matrix as a landscape letter document: a
// title, the receiver perspective table and the contributor perspective
// table.
func WritePDF(w io.Writer, matrix []GroupResult) error {
	pdf := fpdf.New("L", "mm", "Letter", "")
	pdf.SetTitle("Amount Distribution Report", true)
	pdf.AddUTF8FontFromBytes(reportFontFamily, "", reportFont)
	pdf.AddPage()

	pdf.SetFont(reportFontFamily, "", 20)
	pdf.CellFormat(0, 12, "Amount Distribution Report", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	var receivers [][]string
	for _, g := range matrix {
		for _, m := range g.Members {
			for _, d := range m.Details {
				receivers = append(receivers, []string{g.GroupName, m.Receiver, d.Contributor, rupees(d.Amount)})
			}
		}
	}
	writeTable(pdf, "Receiver's Perspective",
		[]string{"Receiver Group", "Receiver Member", "Contributor", "Amount (₹)"}, receivers)

	var contributors [][]string
	for _, c := range contributorView(matrix) {
		contributors = append(contributors, []string{c.contributor, c.receiver, rupees(c.amount)})
	}
	pdf.Ln(6)
	writeTable(pdf, "Contributor's Perspective",
		[]string{"Contributor", "Receiver Group / Member", "Amount (₹)"}, contributors)

	return pdf.Output(w)
}

// writeTable draws a heading and a bordered table whose columns share the
// page width evenly.
func writeTable(pdf *fpdf.Fpdf, heading string, header []string, rows [][]string) {
	pdf.SetFont(reportFontFamily, "", 15)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 10, heading, "", 1, "L", false, 0, "")

	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	colWidth := (pageWidth - left - right) / float64(len(header))

	pdf.SetFont(reportFontFamily, "", 11)
	pdf.SetFillColor(headerFill[0], headerFill[1], headerFill[2])
	pdf.SetTextColor(headerText[0], headerText[1], headerText[2])
	for _, h := range header {
		pdf.CellFormat(colWidth, 9, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFillColor(bodyFill[0], bodyFill[1], bodyFill[2])
	pdf.SetTextColor(0, 0, 0)
	for _, row := range rows {
		for _, cell := range row {
			pdf.CellFormat(colWidth, 7, cell, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	}
}

func rupees(amount float64) string {
	return fmt.Sprintf("₹%.2f", amount)
}
