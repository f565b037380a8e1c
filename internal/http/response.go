package http

import (
	"cfkv/pkg/store"
)

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Response represents the standard API response format.
type Response struct {
	Status Status        `json:"status,omitempty"`
	Value  string        `json:"value,omitempty"`
	Cells  []CellView    `json:"cells,omitempty"`
	Report *store.Report `json:"report,omitempty"`
	Stats  *store.Stats  `json:"stats,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// CellView is the wire form of a store.Cell.
type CellView struct {
	Family    string `json:"family"`
	Qualifier string `json:"qualifier"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
	Value     string `json:"value,omitempty"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewSuccessResponse() Response {
	return Response{Status: StatusSuccess}
}

func NewValueResponse(value string) Response {
	return Response{Status: StatusSuccess, Value: value}
}

func NewCellsResponse(cells []store.Cell) Response {
	views := make([]CellView, 0, len(cells))
	for _, c := range cells {
		views = append(views, CellView{
			Family:    c.Family,
			Qualifier: string(c.Qualifier),
			Timestamp: c.Timestamp,
			Type:      c.Type.String(),
			Value:     string(c.Value),
		})
	}
	return Response{Status: StatusSuccess, Cells: views}
}

func NewReportResponse(rep store.Report) Response {
	return Response{Status: StatusSuccess, Report: &rep}
}

func NewStatsResponse(stats store.Stats) Response {
	return Response{Status: StatusSuccess, Stats: &stats}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}
