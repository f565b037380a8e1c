package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
)

var errMissingRow = errors.New("row is required")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// cellRequest holds the addressing fields shared by cell endpoints.
type cellRequest struct {
	row       []byte
	family    string
	qualifier []byte
}

func parseCell(r *http.Request) (cellRequest, error) {
	row := r.FormValue("row")
	if row == "" {
		return cellRequest{}, errMissingRow
	}
	return cellRequest{
		row:       []byte(row),
		family:    r.FormValue("family"),
		qualifier: []byte(r.FormValue("qualifier")),
	}, nil
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	c, err := parseCell(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	value := []byte(r.FormValue("value"))

	if r.FormValue("if_absent") == "true" {
		err = s.table.PutIfAbsent(c.row, c.family, c.qualifier, value)
	} else {
		err = s.table.Put(c.row, c.family, c.qualifier, value)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	c, err := parseCell(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}

	var (
		value string
		found bool
	)
	switch r.FormValue("as") {
	case "counter", "int64":
		var n int64
		if r.FormValue("as") == "counter" {
			n, found, err = s.table.GetCounter(c.row, c.family, c.qualifier)
		} else {
			n, found, err = s.table.GetInt64(c.row, c.family, c.qualifier)
		}
		value = strconv.FormatInt(n, 10)
	default:
		var v []byte
		v, found, err = s.table.Get(c.row, c.family, c.qualifier)
		value = string(v)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("not found"))
		return
	}
	s.writeJSON(w, http.StatusOK, NewValueResponse(value))
}

func (s *Server) handleDeleteCell(w http.ResponseWriter, r *http.Request) {
	c, err := parseCell(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}

	if r.FormValue("latest") == "true" {
		err = s.table.DeleteLatest(c.row, c.family, c.qualifier)
	} else {
		err = s.table.DeleteColumn(c.row, c.family, c.qualifier)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	c, err := parseCell(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	delta, err := strconv.ParseInt(r.FormValue("delta"), 10, 64)
	if err != nil {
		s.badRequest(w, errors.New("delta must be an integer"))
		return
	}

	if r.FormValue("int64") == "true" {
		err = s.table.AddInt64(c.row, c.family, c.qualifier, delta)
	} else {
		err = s.table.Add(c.row, c.family, c.qualifier, delta)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	c, err := parseCell(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if err := s.table.Append(c.row, c.family, c.qualifier, []byte(r.FormValue("value"))); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleScanRow(w http.ResponseWriter, r *http.Request) {
	row := r.FormValue("row")
	if row == "" {
		s.badRequest(w, errMissingRow)
		return
	}
	cells, err := s.table.ScanRow([]byte(row))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewCellsResponse(cells))
}

func (s *Server) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	row := r.FormValue("row")
	if row == "" {
		s.badRequest(w, errMissingRow)
		return
	}
	if err := s.table.DeleteRow([]byte(row)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleDeleteFamily(w http.ResponseWriter, r *http.Request) {
	row := r.FormValue("row")
	if row == "" {
		s.badRequest(w, errMissingRow)
		return
	}
	if err := s.table.DeleteFamily([]byte(row), r.FormValue("family")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

// handleEvents streams flush and compaction events as JSON frames until the
// client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := s.table.Subscribe()
	defer unsubscribe()

	// the read side only exists to notice the peer closing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "table closed"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				slog.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
