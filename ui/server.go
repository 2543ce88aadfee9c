package ui

import (
	"encoding/json"
	"html/template"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"gorank/app"
	"gorank/domain/calib"
	"gorank/domain/core"
	"gorank/ports"
)

// pageTemplate wraps the rendered report in a minimal HTML shell
const pageTemplate = `<!DOCTYPE html>
<html>
<head>
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; max-width: 56rem; margin: 2rem auto; padding: 0 1rem; color: #1a1a1a; }
table { border-collapse: collapse; }
th, td { border: 1px solid #d0d0d0; padding: 0.25rem 0.75rem; text-align: left; }
code { background: #f4f4f4; padding: 0.1rem 0.3rem; }
img { max-width: 100%; border: 1px solid #e0e0e0; margin: 0.5rem 0; }
</style>
</head>
<body>
{{.Body}}
{{range .Plots}}<p><img src="/plots/{{.}}" alt="{{.}}"></p>
{{end}}</body>
</html>
`

// plotFiles whitelists the plot names the viewer will serve from disk
var plotFiles = map[string]bool{
	app.RankPlotName:           true,
	app.ReconstructionPlotName: true,
}

// App represents the artifact viewer application
type App struct {
	router    *chi.Mux
	outputDir string
	ledger    ports.RunLedgerReaderPort
	page      *template.Template
}

// Config holds viewer configuration
type Config struct {
	OutputDir string
	// Ledger is optional; without it the run history endpoints return 404
	Ledger ports.RunLedgerReaderPort
}

// NewApp creates a read-only viewer over one run's output directory
func NewApp(config Config) *App {
	a := &App{
		router:    chi.NewRouter(),
		outputDir: config.OutputDir,
		ledger:    config.Ledger,
		page:      template.Must(template.New("page").Parse(pageTemplate)),
	}

	a.setupMiddleware()
	a.setupRoutes()

	return a
}

// setupMiddleware configures HTTP middleware
func (a *App) setupMiddleware() {
	a.router.Use(middleware.Logger)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Compress(5))
}

// setupRoutes configures the application routes
func (a *App) setupRoutes() {
	a.router.Get("/", a.handleReport)
	a.router.Get("/healthz", a.handleHealth)
	a.router.Get("/plots/{name}", a.handlePlot)

	// API endpoints
	a.router.Get("/api/metrics", a.handleMetrics)
	a.router.Get("/api/runs", a.handleListRuns)
	a.router.Get("/api/runs/{id}", a.handleGetRun)
}

// Handler exposes the router, mainly for tests
func (a *App) Handler() http.Handler {
	return a.router
}

// Start starts the HTTP server
func (a *App) Start(addr string) error {
	log.Printf("Starting gorank viewer on http://%s", addr)
	return http.ListenAndServe(addr, a.router)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleReport renders report.md as the index page
func (a *App) handleReport(w http.ResponseWriter, r *http.Request) {
	content, err := os.ReadFile(filepath.Join(a.outputDir, app.ReportName))
	if err != nil {
		http.Error(w, "No run report found; run the transform first", http.StatusNotFound)
		return
	}

	// gomarkdown parsers hold state and are single-use
	p := parser.NewWithExtensions(parser.CommonExtensions)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	body := markdown.ToHTML(content, p, renderer)

	data := map[string]interface{}{
		"Title": "Rank Calibration Run",
		"Body":  template.HTML(body),
		"Plots": a.availablePlots(),
	}

	w.Header().Set("Content-Type", "text/html")
	if err := a.page.Execute(w, data); err != nil {
		log.Printf("Template error: %v", err)
	}
}

// availablePlots lists the known plot files present in the output directory
func (a *App) availablePlots() []string {
	var plots []string
	for _, name := range []string{app.RankPlotName, app.ReconstructionPlotName} {
		if _, err := os.Stat(filepath.Join(a.outputDir, name)); err == nil {
			plots = append(plots, name)
		}
	}
	return plots
}

// handlePlot serves one of the diagnostic plot images
func (a *App) handlePlot(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !plotFiles[name] {
		http.Error(w, "Unknown plot", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, filepath.Join(a.outputDir, name))
}

// handleMetrics returns the calibration metrics CSV as JSON
func (a *App) handleMetrics(w http.ResponseWriter, r *http.Request) {
	file, err := os.Open(filepath.Join(a.outputDir, calib.MetricsFileName))
	if err != nil {
		http.Error(w, "No calibration metrics found", http.StatusNotFound)
		return
	}
	defer file.Close()

	model, err := calib.ReadCSV(file)
	if err != nil {
		log.Printf("[Viewer] Unreadable metrics file: %v", err)
		http.Error(w, "Calibration metrics are unreadable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(model)
}

// handleListRuns returns recent runs from the ledger, newest first
func (a *App) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if a.ledger == nil {
		http.Error(w, "No run ledger configured", http.StatusNotFound)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	runs, err := a.ledger.ListRuns(r.Context(), limit)
	if err != nil {
		log.Printf("[Viewer] Failed to list runs: %v", err)
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleGetRun returns one run with its calibration, when recorded
func (a *App) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if a.ledger == nil {
		http.Error(w, "No run ledger configured", http.StatusNotFound)
		return
	}

	id := core.RunID(chi.URLParam(r, "id"))
	run, err := a.ledger.GetRun(r.Context(), id)
	if err != nil {
		if core.IsNotFoundError(err) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		log.Printf("[Viewer] Failed to get run %s: %v", id, err)
		http.Error(w, "Failed to load run", http.StatusInternalServerError)
		return
	}

	var model *calib.Model
	if m, err := a.ledger.GetCalibration(r.Context(), id); err == nil {
		model = m
	} else if !core.IsNotFoundError(err) {
		log.Printf("[Viewer] Failed to get calibration for %s: %v", id, err)
		http.Error(w, "Failed to load calibration", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"run":         run,
		"calibration": model,
	})
}
