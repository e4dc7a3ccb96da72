package http

import (
	"net/http"

	"github.com/skarsol/convoy/internal/domain/repo"
)

func (h *Handlers) listRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := h.repos.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "repos not found")
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (h *Handlers) getRepo(w http.ResponseWriter, r *http.Request) {
	rp, err := h.repos.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "repo not found")
		return
	}
	writeJSON(w, http.StatusOK, rp)
}

func (h *Handlers) createRepo(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[repo.CreateRequest](w, r)
	if !ok {
		return
	}
	rp, err := h.repos.Create(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err, "repo not found")
		return
	}
	writeJSON(w, http.StatusCreated, rp)
}

func (h *Handlers) updateRepo(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[repo.UpdateRequest](w, r)
	if !ok {
		return
	}
	rp, err := h.repos.Update(r.Context(), urlParam(r, "id"), &req)
	if err != nil {
		writeDomainError(w, err, "repo not found")
		return
	}
	writeJSON(w, http.StatusOK, rp)
}

type checkRepoRequest struct {
	URL string `json:"url"`
}

func (h *Handlers) checkRepo(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[checkRepoRequest](w, r)
	if !ok {
		return
	}
	check, err := h.repos.Check(r.Context(), req.URL)
	if err != nil {
		writeDomainError(w, err, "repo not found")
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (h *Handlers) deleteRepo(w http.ResponseWriter, r *http.Request) {
	if err := h.repos.Delete(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "repo not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
