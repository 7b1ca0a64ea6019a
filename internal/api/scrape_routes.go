package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/kjannette/tvscrape/internal/scrape"
	"github.com/kjannette/tvscrape/internal/tradingview"
)

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	req, err := scrape.DecodeRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.svc.Scrape(r.Context(), req)
	if err != nil {
		status := errorStatus(err)
		if status >= 500 {
			log.WithContext(r.Context()).WithError(err).WithField("scrape", req.Name).Error("scrape request failed")
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListScrapes(w http.ResponseWriter, r *http.Request) {
	hist := s.svc.History()
	if hist == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	records, err := hist.List(r.Context(), parseLimit(r, defaultQueryLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetScrape(w http.ResponseWriter, r *http.Request) {
	hist := s.svc.History()
	if hist == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	id := mux.Vars(r)["id"]
	rec, err := hist.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "scrape not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// errorStatus maps scrape errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, tradingview.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, tradingview.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, tradingview.ErrUpstream), errors.Is(err, tradingview.ErrConnection):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
