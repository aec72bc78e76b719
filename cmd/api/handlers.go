package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/AskBaseAI/askbase/engine/domain"
	"github.com/AskBaseAI/askbase/engine/qa"
)

// errorBody is the error response shape: the failure as plain detail text.
type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps validation failures to 400 and everything else (embedding
// failures, store failures) to 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if domain.IsValidation(err) {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorBody{Detail: err.Error()})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AddRequest is the JSON body for POST /add.
type AddRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// AddResponse acknowledges a stored pair.
type AddResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

func handleAdd(svc *qa.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid request body"})
			return
		}

		id, err := svc.Add(r.Context(), req.Question, req.Answer)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, AddResponse{
			Status:  "ok",
			Message: "question-answer pair added",
			ID:      id,
		})
	}
}

// SearchRequest is the JSON body for POST /search. Top defaults to 3.
type SearchRequest struct {
	Query string `json:"query"`
	Top   int    `json:"top"`
}

func handleSearch(svc *qa.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid request body"})
			return
		}

		matches, err := svc.Search(r.Context(), req.Query, req.Top)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, matches)
	}
}

// handleAll serves the full scan, or one cursor page when ?limit is given.
func handleAll(svc *qa.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if rawLimit := q.Get("limit"); rawLimit != "" {
			limit, err := strconv.Atoi(rawLimit)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorBody{Detail: "limit must be an integer"})
				return
			}
			page, err := svc.List(r.Context(), q.Get("cursor"), limit)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, page)
			return
		}

		matches, err := svc.ListAll(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, matches)
	}
}

// DeleteRequest is the JSON body for POST /delete. Both fields must match
// a record exactly for it to be removed.
type DeleteRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// DeleteResponse reports how many records were removed; zero is a success.
type DeleteResponse struct {
	Deleted int `json:"deleted"`
}

func handleDelete(svc *qa.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DeleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid request body"})
			return
		}

		removed, err := svc.Delete(r.Context(), req.Question, req.Answer)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, DeleteResponse{Deleted: removed})
	}
}
