package ui

import (
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"megstats/adapters/excel"
	"megstats/domain/core"
	"megstats/domain/run"
	"megstats/internal/report"
	"megstats/ports"
)

const defaultListLimit = 200

func filtersFrom(r *http.Request) ports.RunFilters {
	q := r.URL.Query()
	filters := ports.RunFilters{
		Stage: run.Stage(q.Get("stage")),
		Label: q.Get("label"),
		Limit: defaultListLimit,
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		filters.Limit = n
	}
	return filters
}

// handleIndex lists recorded runs
func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	filters := filtersFrom(r)
	runs, err := a.reader.ListRuns(r.Context(), filters)
	if err != nil {
		a.logger.Error("list runs: %v", err)
		http.Error(w, "Failed to load runs", http.StatusInternalServerError)
		return
	}
	data := map[string]interface{}{
		"Title":  "megstats runs",
		"Stage":  string(filters.Stage),
		"Stages": []run.Stage{run.StageAssemble, run.StageCluster, run.StageExtract, run.StageReject},
		"Runs":   runs,
	}
	a.renderTemplate(w, "index.html", data)
}

// handleRun shows one run with its cluster summary and rendered report
func (a *App) handleRun(w http.ResponseWriter, r *http.Request) {
	m, ok := a.lookup(w, r)
	if !ok {
		return
	}
	data := map[string]interface{}{
		"Title":    m.Label,
		"Run":      m,
		"Created":  m.CreatedAt.Time(),
		"Resource": a.fileLink(m.ResultPath),
	}

	if m.Stage == run.StageExtract {
		if html, err := a.reportHTML(m.Label); err == nil {
			data["Report"] = html
		} else if !errors.Is(err, fs.ErrNotExist) {
			a.logger.Warn("report for %s: %v", m.Label, err)
		}
		if table, err := excel.ReadTable(a.layout.SheetPath(m.Label), excel.SummarySheet); err == nil {
			data["Summary"] = table
		}
	}
	a.renderTemplate(w, "run.html", data)
}

// reportHTML renders the markdown report with its relative links rebased
// under /files/
func (a *App) reportHTML(stem string) (template.HTML, error) {
	md, err := os.ReadFile(a.layout.ReportPath(stem))
	if err != nil {
		return "", err
	}
	return template.HTML(rebaseLinks(string(report.HTML(md)))), nil
}

var linkAttr = regexp.MustCompile(`(src|href)="([^"]*)"`)

// rebaseLinks prefixes relative src and href targets with /files/. Absolute
// paths, anchors and URLs with a scheme or host are left alone.
func rebaseLinks(html string) string {
	return linkAttr.ReplaceAllStringFunc(html, func(attr string) string {
		m := linkAttr.FindStringSubmatch(attr)
		target := m[2]
		if target == "" || strings.HasPrefix(target, "/") || strings.HasPrefix(target, "#") {
			return attr
		}
		if u, err := url.Parse(target); err != nil || u.Scheme != "" || u.Host != "" {
			return attr
		}
		return m[1] + `="/files/` + target + `"`
	})
}

// fileLink maps an output path to its /files/ URL, or "" when it lies
// outside the output directory
func (a *App) fileLink(path string) string {
	if path == "" {
		return ""
	}
	rel, err := filepath.Rel(a.layout.Output, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	return "/files/" + filepath.ToSlash(rel)
}

func (a *App) lookup(w http.ResponseWriter, r *http.Request) (*run.Manifest, bool) {
	id := chi.URLParam(r, "id")
	m, err := a.reader.GetRun(r.Context(), core.RunID(id))
	if errors.Is(err, core.ErrNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		a.logger.Error("get run %s: %v", id, err)
		http.Error(w, "Failed to load run", http.StatusInternalServerError)
		return nil, false
	}
	return m, true
}

// handleListRuns returns manifests as JSON, newest first
func (a *App) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := a.reader.ListRuns(r.Context(), filtersFrom(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []*run.Manifest{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleGetRun returns one manifest as JSON
func (a *App) handleGetRun(w http.ResponseWriter, r *http.Request) {
	m, ok := a.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
