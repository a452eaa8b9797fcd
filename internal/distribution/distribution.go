// Package distribution implements the amount distribution application served
// behind the offline cache.
//
// A total amount is paid in by contributor groups and paid out to receiver
// groups. Each group carries a percentage; within a group the share is split
// evenly across members.
package distribution

type (
	// Group is a named set of members with a percentage share.
	Group struct {
		Name       string   `json:"name"`
		Percentage float64  `json:"percentage"`
		Members    []string `json:"members"`
	}

	// Request is the input of Calculate.
	Request struct {
		TotalAmount  float64 `json:"total_amount"`
		Contributors []Group `json:"contributors"`
		Receivers    []Group `json:"receivers"`
	}

	// Detail is the amount one contributor pays one receiver.
	Detail struct {
		Contributor string  `json:"contributor"`
		Amount      float64 `json:"amount"`
	}

	// MemberRow lists everything one receiver gets.
	MemberRow struct {
		Receiver string   `json:"receiver"`
		Details  []Detail `json:"details"`
		Subtotal float64  `json:"subtotal"`
	}

	// GroupResult is one receiver group of the matrix.
	GroupResult struct {
		GroupName  string      `json:"group_name"`
		Members    []MemberRow `json:"members"`
		GroupTotal float64     `json:"group_total"`
	}

	// Result is the distribution matrix.
	Result struct {
		Matrix       []GroupResult `json:"matrix"`
		OverallTotal float64       `json:"overall_total"`
	}
)

// Calculate distributes req.TotalAmount.
//
// A contributor member pays (group percentage × total) / group size; a
// receiver member gets (group percentage / group size) of every contributor
// member's payment. A group without members contributes nothing; an empty
// receiver group is still listed with a zero total.
func Calculate(req Request) Result {
	res := Result{Matrix: make([]GroupResult, 0, len(req.Receivers))}
	for _, rg := range req.Receivers {
		group := GroupResult{GroupName: rg.Name, Members: make([]MemberRow, 0, len(rg.Members))}
		for _, receiver := range rg.Members {
			receiverShare := (rg.Percentage / 100) * (1 / float64(len(rg.Members)))
			row := MemberRow{Receiver: receiver, Details: []Detail{}}
			for _, cg := range req.Contributors {
				groupContribution := (cg.Percentage / 100) * req.TotalAmount
				for _, contributor := range cg.Members {
					memberShare := groupContribution / float64(len(cg.Members))
					amount := memberShare * receiverShare
					row.Subtotal += amount
					row.Details = append(row.Details, Detail{Contributor: contributor, Amount: amount})
				}
			}
			group.GroupTotal += row.Subtotal
			group.Members = append(group.Members, row)
		}
		res.OverallTotal += group.GroupTotal
		res.Matrix = append(res.Matrix, group)
	}
	return res
}
