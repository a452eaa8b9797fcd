package distribution

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
)

//go:embed web
var web embed.FS

// maxBodySize bounds request bodies of the POST endpoints.
const maxBodySize = 1 << 20

// Handlers serves the application pages and its JSON endpoints.
type Handlers struct {
	Logger logr.Logger

	// Modified is reported as the last modification time of the pages.
	Modified time.Time
}

// AddHandlers registers the application routes on r.
func (h *Handlers) AddHandlers(r *mux.Router) {
	r.HandleFunc("/", h.page("index.html", "text/html; charset=utf-8")).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/index.html", h.page("index.html", "text/html; charset=utf-8")).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/styles.css", h.page("styles.css", "text/css; charset=utf-8")).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/assets/logo.png", h.page("assets/logo.png", "image/png")).Methods(http.MethodGet, http.MethodHead)

	r.HandleFunc("/calculate", h.calculate).Methods(http.MethodPost)
	r.HandleFunc("/export_csv", h.export(WriteCSV, CSVFilename, "text/csv")).Methods(http.MethodPost)
	r.HandleFunc("/export_pdf", h.export(WritePDF, PDFFilename, "application/pdf")).Methods(http.MethodPost)
}

func (h *Handlers) page(name, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := web.ReadFile(path.Join("web", name))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		http.ServeContent(w, r, name, h.Modified, bytes.NewReader(data))
	}
}

func (h *Handlers) calculate(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res := Calculate(req)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.Logger.Error(err, "writing calculate response")
	}
}

// export renders the posted matrix with write as a file attachment.
func (h *Handlers) export(write func(io.Writer, []GroupResult) error, filename, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Matrix []GroupResult `json:"matrix"`
		}
		if err := decode(r, &body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var buf bytes.Buffer
		if err := write(&buf, body.Matrix); err != nil {
			h.Logger.Error(err, "rendering report", "filename", filename)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename="+filename)
		w.Header().Set("Content-Type", contentType)
		if _, err := buf.WriteTo(w); err != nil {
			h.Logger.Error(err, "writing report", "filename", filename)
		}
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return err
	}
	return nil
}
