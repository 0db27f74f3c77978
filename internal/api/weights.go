package api

import (
	"net/http"

	"github.com/user/yesman/internal/store"
)

type weightsResponse struct {
	Weights []*store.ResponseWeight `json:"weights"`
	Totals  weightTotals            `json:"totals"`
}

type weightTotals struct {
	Keys      int `json:"keys"`
	Samples   int `json:"samples"`
	Successes int `json:"successes"`
}

func (h *handler) listWeights(w http.ResponseWriter, r *http.Request) {
	weights, err := h.weights.ListWeights(r.Context())
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if weights == nil {
		weights = []*store.ResponseWeight{}
	}

	totals := weightTotals{Keys: len(weights)}
	for _, row := range weights {
		totals.Samples += row.SampleCount
		totals.Successes += row.Successes
	}
	jsonResponse(w, http.StatusOK, weightsResponse{Weights: weights, Totals: totals})
}
