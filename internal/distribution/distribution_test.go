package distribution

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() Request {
	return Request{
		TotalAmount: 1000,
		Contributors: []Group{
			{Name: "Family A", Percentage: 60, Members: []string{"Asha", "Ravi"}},
			{Name: "Family B", Percentage: 40, Members: []string{"Meera"}},
		},
		Receivers: []Group{
			{Name: "Temple", Percentage: 50, Members: []string{"Fund"}},
			{Name: "School", Percentage: 50, Members: []string{"Books", "Meals"}},
		},
	}
}

func TestCalculate(t *testing.T) {
	res := Calculate(sampleRequest())
	require.Len(t, res.Matrix, 2)

	temple := res.Matrix[0]
	assert.Equal(t, "Temple", temple.GroupName)
	require.Len(t, temple.Members, 1)
	fund := temple.Members[0]
	assert.Equal(t, "Fund", fund.Receiver)
	require.Len(t, fund.Details, 3)
	assert.Equal(t, "Asha", fund.Details[0].Contributor)
	assert.InDelta(t, 150, fund.Details[0].Amount, 1e-9)
	assert.InDelta(t, 150, fund.Details[1].Amount, 1e-9)
	assert.Equal(t, "Meera", fund.Details[2].Contributor)
	assert.InDelta(t, 200, fund.Details[2].Amount, 1e-9)
	assert.InDelta(t, 500, fund.Subtotal, 1e-9)
	assert.InDelta(t, 500, temple.GroupTotal, 1e-9)

	school := res.Matrix[1]
	require.Len(t, school.Members, 2)
	assert.InDelta(t, 75, school.Members[0].Details[0].Amount, 1e-9)
	assert.InDelta(t, 100, school.Members[1].Details[2].Amount, 1e-9)
	assert.InDelta(t, 250, school.Members[1].Subtotal, 1e-9)
	assert.InDelta(t, 500, school.GroupTotal, 1e-9)

	assert.InDelta(t, 1000, res.OverallTotal, 1e-9)
}

func TestCalculateEmptyGroup(t *testing.T) {
	req := sampleRequest()
	req.Receivers[1].Members = nil
	res := Calculate(req)
	require.Len(t, res.Matrix, 2)
	assert.Equal(t, "School", res.Matrix[1].GroupName)
	assert.Empty(t, res.Matrix[1].Members)
	assert.Zero(t, res.Matrix[1].GroupTotal)
	assert.InDelta(t, 500, res.OverallTotal, 1e-9)

	req = sampleRequest()
	req.Contributors[0] = Group{Name: "E", Percentage: 0}
	res = Calculate(req)
	require.Len(t, res.Matrix, 2)
	fund := res.Matrix[0].Members[0]
	require.Len(t, fund.Details, 1)
	assert.Equal(t, "Meera", fund.Details[0].Contributor)
	assert.InDelta(t, 200, fund.Subtotal, 1e-9)
	assert.InDelta(t, 400, res.OverallTotal, 1e-9)
}

func TestCalculateNoGroups(t *testing.T) {
	res := Calculate(Request{TotalAmount: 10})
	assert.Empty(t, res.Matrix)
	assert.Zero(t, res.OverallTotal)
}

func TestWriteCSV(t *testing.T) {
	matrix := []GroupResult{
		{
			GroupName: "R",
			Members: []MemberRow{
				{Receiver: "r1", Details: []Detail{{Contributor: "c1", Amount: 100}, {Contributor: "c2", Amount: 12.5}}},
				{Receiver: "r2", Details: []Detail{{Contributor: "c1", Amount: 0.1}}},
			},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, matrix))

	want := "Amount Distribution Report\r\n" +
		"Receiver Group,Receiver Member,Contributor,Amount (₹)\r\n" +
		"R,r1,c1,100.0\r\n" +
		"R,r1,c2,12.5\r\n" +
		"R,r2,c1,0.1\r\n" +
		"\r\n" +
		"Contributor View\r\n" +
		"Contributor,Receiver Group / Member,Amount (₹)\r\n" +
		"c1,R - r1,100.0\r\n" +
		"c1,R - r2,0.1\r\n" +
		"c2,R - r1,12.5\r\n"
	assert.Equal(t, want, buf.String())
}

func TestFormatAmount(t *testing.T) {
	tests := map[float64]string{
		0:                "0.0",
		250:              "250.0",
		83.3333:          "83.3333",
		-1.5:             "-1.5",
		0.0001:           "0.0001",
		1e-05:            "1e-05",
		2.5e-07:          "2.5e-07",
		1e16:             "1e+16",
		1.25e17:          "1.25e+17",
		9999999999999998: "9999999999999998.0",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatAmount(in))
	}
}
