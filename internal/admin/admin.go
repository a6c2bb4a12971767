// Package admin exposes the stats of a running process over HTTP.
package admin

import (
	"bytes"
	"io"
	"net/http"

	"github.com/CAFxX/httpcompression"
	"github.com/getsentry/sentry-go"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
)

// Stats is implemented by perfstats.Stats for any key type.
type Stats interface {
	DumpReport(w io.Writer) error
	DumpAndClear(w io.Writer) error
	ReportJSON() ([]byte, error)
	Clear()
}

type api struct {
	stats Stats
}

func NewRouter(stats Stats) (*httprouter.Router, error) {
	compress, err := httpcompression.DefaultAdapter()
	if err != nil {
		return nil, err
	}

	a := api{stats: stats}
	routes := []struct {
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{http.MethodGet, "/health", a.getHealth},
		{http.MethodGet, "/stats", a.getStats},
		{http.MethodGet, "/stats.json", a.getStatsJSON},
		{http.MethodDelete, "/stats", a.deleteStats},
		{http.MethodPost, "/stats/dump", a.postDump},
	}

	router := httprouter.New()
	for _, route := range routes {
		router.Handler(route.method, route.path, compress(route.handler))
	}
	return router, nil
}

func hubFromRequest(r *http.Request) *sentry.Hub {
	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}

func (a api) getHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (a api) getStats(w http.ResponseWriter, r *http.Request) {
	var b bytes.Buffer
	if err := a.stats.DumpReport(&b); err != nil {
		hubFromRequest(r).CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeText(w, b.Bytes())
}

func (a api) getStatsJSON(w http.ResponseWriter, r *http.Request) {
	b, err := a.stats.ReportJSON()
	if err != nil {
		hubFromRequest(r).CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

func (a api) deleteStats(w http.ResponseWriter, _ *http.Request) {
	a.stats.Clear()
	log.Info().Msg("stats cleared")
	w.WriteHeader(http.StatusNoContent)
}

// postDump returns the report of the window it closes.
func (a api) postDump(w http.ResponseWriter, r *http.Request) {
	var b bytes.Buffer
	if err := a.stats.DumpAndClear(&b); err != nil {
		hubFromRequest(r).CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeText(w, b.Bytes())
}

func writeText(w http.ResponseWriter, b []byte) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(b)
}
