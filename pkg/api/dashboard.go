package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/txn2/medicaid-explorer/pkg/analytics"
	"github.com/txn2/medicaid-explorer/pkg/anomaly"
	"github.com/txn2/medicaid-explorer/pkg/spending"
)

const (
	msgInternal = "internal server error"
	msgNotFound = "not found"
)

// healthResponse is the body of GET /api/health.
type healthResponse struct {
	Status   string `json:"status" example:"ok"`
	Service  string `json:"service" example:"Medicaid Data Explorer"`
	Database string `json:"database" example:"ok"`
}

// getHealth handles GET /api/health.
//
// @Summary      Service health
// @Description  Reports whether the service is up and the store reachable.
// @Tags         System
// @Produce      json
// @Success      200  {object}  healthResponse
// @Failure      503  {object}  healthResponse
// @Router       /health [get]
func (h *Handler) getHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Service: ServiceName, Database: "ok"}
	if h.deps.Store != nil {
		if err := h.deps.Store.Ping(r.Context()); err != nil {
			slog.Warn("health check: store unreachable", "error", err)
			resp.Status = "degraded"
			resp.Database = "unavailable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// getOverview handles GET /api/overview.
//
// @Summary      Dataset overview
// @Description  Returns total paid, claims, beneficiaries, distinct providers and codes, and the covered months.
// @Tags         Dashboard
// @Produce      json
// @Param        start  query  string  false  "First month, YYYY-MM or YYYY-MM-DD"
// @Param        end    query  string  false  "Last month, YYYY-MM or YYYY-MM-DD"
// @Success      200  {object}  spending.Overview
// @Failure      400  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Router       /overview [get]
func (h *Handler) getOverview(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.deps.Analytics.Overview(r.Context(), rng)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getTrends handles GET /api/trends.
//
// @Summary      Monthly spending trend
// @Description  Returns one point per month, ascending, with months without claims zero-filled.
// @Tags         Dashboard
// @Produce      json
// @Param        start       query  string  false  "First month, YYYY-MM or YYYY-MM-DD"
// @Param        end         query  string  false  "Last month, YYYY-MM or YYYY-MM-DD"
// @Param        npi         query  string  false  "Restrict to one billing provider"
// @Param        hcpcs_code  query  string  false  "Restrict to one procedure code"
// @Success      200  {array}   spending.MonthlyTrend
// @Failure      400  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Router       /trends [get]
func (h *Handler) getTrends(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rng, err := parseRange(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trend, err := h.deps.Analytics.Trends(r.Context(), spending.TrendFilter{
		Range: rng,
		NPI:   strings.TrimSpace(q.Get("npi")),
		Code:  strings.ToUpper(strings.TrimSpace(q.Get("hcpcs_code"))),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trend)
}

// getTopProviders handles GET /api/top-providers.
//
// @Summary      Top providers
// @Description  Ranks billing providers by total paid, claims or beneficiaries.
// @Tags         Dashboard
// @Produce      json
// @Param        limit    query  integer  false  "Rows to return, 1-100 (default: 20)"
// @Param        sort_by  query  string   false  "total_paid, total_claims or total_beneficiaries (default: total_paid)"
// @Param        start    query  string   false  "First month, YYYY-MM or YYYY-MM-DD"
// @Param        end      query  string   false  "Last month, YYYY-MM or YYYY-MM-DD"
// @Success      200  {array}   spending.ProviderSummary
// @Failure      400  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Router       /top-providers [get]
func (h *Handler) getTopProviders(w http.ResponseWriter, r *http.Request) {
	rq, err := parseRankQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	providers, err := h.deps.Analytics.TopProviders(r.Context(), rq)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

// getTopCodes handles GET /api/top-codes.
//
// @Summary      Top procedure codes
// @Description  Ranks HCPCS codes by total paid, claims, beneficiaries or provider count.
// @Tags         Dashboard
// @Produce      json
// @Param        limit    query  integer  false  "Rows to return, 1-100 (default: 20)"
// @Param        sort_by  query  string   false  "total_paid, total_claims, total_beneficiaries or provider_count (default: total_paid)"
// @Param        start    query  string   false  "First month, YYYY-MM or YYYY-MM-DD"
// @Param        end      query  string   false  "Last month, YYYY-MM or YYYY-MM-DD"
// @Success      200  {array}   spending.CodeSummary
// @Failure      400  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Router       /top-codes [get]
func (h *Handler) getTopCodes(w http.ResponseWriter, r *http.Request) {
	rq, err := parseRankQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	codes, err := h.deps.Analytics.TopCodes(r.Context(), rq)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, codes)
}

// getProvider handles GET /api/provider/{id}.
//
// @Summary      Provider detail
// @Description  Returns a provider's summary, monthly trend, top codes and strongest anomalies.
// @Tags         Dashboard
// @Produce      json
// @Param        id   path  string  true  "Billing provider NPI"
// @Success      200  {object}  analytics.ProviderDetail
// @Failure      404  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Router       /provider/{id} [get]
func (h *Handler) getProvider(w http.ResponseWriter, r *http.Request) {
	detail, err := h.deps.Analytics.ProviderDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// getCode handles GET /api/code/{code}.
//
// @Summary      Procedure code detail
// @Description  Returns a code's summary, monthly trend and top providers.
// @Tags         Dashboard
// @Produce      json
// @Param        code  path  string  true  "HCPCS code"
// @Success      200  {object}  analytics.CodeDetail
// @Failure      404  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Router       /code/{code} [get]
func (h *Handler) getCode(w http.ResponseWriter, r *http.Request) {
	detail, err := h.deps.Analytics.CodeDetail(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// getAnomalies handles GET /api/anomalies.
//
// @Summary      Spending anomalies
// @Description  Returns provider/code pairs whose total paid is far from the code's provider population, strongest first.
// @Tags         Anomalies
// @Produce      json
// @Param        limit        query  integer  false  "Rows to return, 1-200 (default: 50)"
// @Param        min_z_score  query  number   false  "Minimum absolute z-score, at least 2 (default: 5)"
// @Param        hcpcs_code   query  string   false  "Restrict to one procedure code"
// @Success      200  {array}   anomaly.Record
// @Failure      400  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Router       /anomalies [get]
func (h *Handler) getAnomalies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	aq := anomaly.Query{Code: q.Get("hcpcs_code")}
	var err error
	if aq.Limit, err = parseIntParam(q, "limit"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if v := q.Get("min_z_score"); v != "" {
		if aq.MinZScore, err = strconv.ParseFloat(v, 64); err != nil || aq.MinZScore <= 0 {
			writeError(w, http.StatusBadRequest, "min_z_score must be a positive number")
			return
		}
	}
	recs, err := h.deps.Analytics.Anomalies(r.Context(), aq)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// writeServiceError maps service errors to status codes. Store failures
// are logged and hidden behind a generic message.
func (*Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, analytics.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), analytics.ErrInvalidArgument.Error()+": "))
	case errors.Is(err, spending.ErrNotFound):
		writeError(w, http.StatusNotFound, msgNotFound)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}

func parseRange(q url.Values) (spending.Range, error) {
	var rng spending.Range
	for _, p := range []struct {
		key string
		dst **spending.Month
	}{{"start", &rng.Start}, {"end", &rng.End}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		m, err := spending.ParseMonth(v)
		if err != nil {
			return rng, fmt.Errorf("%s: %w", p.key, err)
		}
		*p.dst = &m
	}
	return rng, nil
}

func parseRankQuery(q url.Values) (spending.RankQuery, error) {
	rng, err := parseRange(q)
	if err != nil {
		return spending.RankQuery{}, err
	}
	limit, err := parseIntParam(q, "limit")
	if err != nil {
		return spending.RankQuery{}, err
	}
	return spending.RankQuery{
		Limit:  limit,
		SortBy: spending.SortKey(strings.TrimSpace(q.Get("sort_by"))),
		Range:  rng,
	}, nil
}

// parseIntParam returns 0 when the parameter is absent.
func parseIntParam(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return n, nil
}
