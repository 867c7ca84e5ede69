// Package api implements the firmdesk REST API handlers.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/firmdesk/firmdesk/automation"
	"github.com/firmdesk/firmdesk/client"
	"github.com/firmdesk/firmdesk/invoice"
	"github.com/firmdesk/firmdesk/notify"
	"github.com/firmdesk/firmdesk/task"
	"github.com/firmdesk/firmdesk/template"
)

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Clients     client.Store
	Templates   template.Store
	Tasks       task.Store
	Lifecycle   *task.Lifecycle
	Invoices    *invoice.SQLiteStore
	Generator   *invoice.Generator
	Settings    *automation.SettingsStore
	CommLog     notify.LogStore
	Coordinator *automation.Coordinator
	Logger      *slog.Logger
	Version     string
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/clients", h.listClients)
	mux.HandleFunc("POST /api/clients", h.createClient)
	mux.HandleFunc("GET /api/clients/{id}", h.getClient)
	mux.HandleFunc("PATCH /api/clients/{id}", h.updateClient)

	mux.HandleFunc("GET /api/templates", h.listTemplates)
	mux.HandleFunc("POST /api/templates", h.createTemplate)
	mux.HandleFunc("GET /api/templates/{id}", h.getTemplate)
	mux.HandleFunc("PATCH /api/templates/{id}", h.updateTemplate)
	mux.HandleFunc("DELETE /api/templates/{id}", h.deleteTemplate)

	mux.HandleFunc("GET /api/tasks", h.listTasks)
	mux.HandleFunc("POST /api/tasks", h.createTask)
	mux.HandleFunc("GET /api/tasks/{id}", h.getTask)
	mux.HandleFunc("PATCH /api/tasks/{id}", h.updateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", h.deleteTask)
	mux.HandleFunc("POST /api/tasks/{id}/transition", h.transitionTask)
	mux.HandleFunc("POST /api/tasks/{id}/invoice", h.invoiceTask)

	mux.HandleFunc("GET /api/invoices", h.listInvoices)
	mux.HandleFunc("GET /api/invoices/{id}", h.getInvoice)
	mux.HandleFunc("PATCH /api/invoices/{id}", h.updateInvoiceStatus)

	mux.HandleFunc("GET /api/settings", h.getSettings)
	mux.HandleFunc("PUT /api/settings", h.putSettings)

	mux.HandleFunc("GET /api/communications", h.listCommunications)

	mux.HandleFunc("POST /api/automation/tick", h.runTick)
	mux.HandleFunc("GET /api/automation/report", h.lastReport)

	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("GET /api/version", h.version)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Client handlers ---

func (h *Handlers) listClients(w http.ResponseWriter, _ *http.Request) {
	clients, err := h.Clients.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if clients == nil {
		clients = []*client.Client{}
	}
	writeJSON(w, http.StatusOK, clients)
}

func (h *Handlers) createClient(w http.ResponseWriter, r *http.Request) {
	var c client.Client
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if _, err := h.Clients.Create(&c); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handlers) getClient(w http.ResponseWriter, r *http.Request) {
	c, err := h.Clients.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handlers) updateClient(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := h.Clients.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}
	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	existing.ID = id
	if err := h.Clients.Update(existing); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

// --- Template handlers ---

func (h *Handlers) listTemplates(w http.ResponseWriter, r *http.Request) {
	onlyActive := r.URL.Query().Get("active") == "true"
	templates, err := h.Templates.List(onlyActive)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if templates == nil {
		templates = []*template.Template{}
	}
	writeJSON(w, http.StatusOK, templates)
}

func (h *Handlers) createTemplate(w http.ResponseWriter, r *http.Request) {
	var t template.Template
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if _, err := h.Templates.Create(&t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handlers) getTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.Templates.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) updateTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := h.Templates.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	existing.ID = id
	if err := h.Templates.Update(existing); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (h *Handlers) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.Templates.Delete(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Task handlers ---

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := task.Filter{}

	if s := q.Get("status"); s != "" {
		st := task.Status(s)
		filter.Status = &st
	}
	if c := q.Get("client_id"); c != "" {
		filter.ClientID = c
	}
	if t := q.Get("template_id"); t != "" {
		filter.TemplateID = t
	}
	if q.Get("open") == "true" {
		filter.Open = true
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			filter.Limit = n
		}
	}
	if o := q.Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil {
			filter.Offset = n
		}
	}

	tasks, err := h.Tasks.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) createTask(w http.ResponseWriter, r *http.Request) {
	var t task.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	// Tasks created through the API are user tasks; templates only
	// generate through the expander.
	t.TemplateID = ""
	t.InvoiceID = ""
	if _, err := h.Tasks.Create(&t); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tasks.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) updateTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := h.Tasks.Get(id)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Decode partial update over existing task. Status and invoice
	// reference are not updatable here: status changes go through the
	// transition endpoint and the back-reference belongs to automation.
	status, invoiceID := existing.Status, existing.InvoiceID
	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	existing.ID = id
	existing.Status = status
	existing.InvoiceID = invoiceID

	if err := h.Tasks.Update(existing); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (h *Handlers) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Tasks.SoftDelete(r.PathValue("id")); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transitionRequest struct {
	Status task.Status `json:"status"`
}

func (h *Handlers) transitionTask(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	t, err := h.Lifecycle.Transition(r.Context(), r.PathValue("id"), req.Status)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, t)
	case errors.Is(err, task.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, task.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// invoiceTask is the manual override for invoice generation. Generation is
// still funneled through the Generator, so the one-invoice-per-task
// guarantee holds; a duplicate request returns the existing invoice.
func (h *Handlers) invoiceTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	inv, err := h.Generator.GenerateForTask(r.Context(), taskID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, inv)
	case errors.Is(err, invoice.ErrAlreadyInvoiced):
		existing, getErr := h.Invoices.GetByTask(taskID)
		if getErr != nil {
			writeError(w, http.StatusInternalServerError, getErr.Error())
			return
		}
		writeJSON(w, http.StatusOK, existing)
	case errors.Is(err, task.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, invoice.ErrNotEligible):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Invoice handlers ---

func (h *Handlers) listInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := invoice.Filter{}
	if s := q.Get("status"); s != "" {
		st := invoice.Status(s)
		filter.Status = &st
	}
	if c := q.Get("client_id"); c != "" {
		filter.ClientID = c
	}
	if t := q.Get("task_id"); t != "" {
		filter.TaskID = t
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			filter.Limit = n
		}
	}

	invoices, err := h.Invoices.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if invoices == nil {
		invoices = []*invoice.Invoice{}
	}
	writeJSON(w, http.StatusOK, invoices)
}

func (h *Handlers) getInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Invoices.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, invoice.ErrNotFound) {
			writeError(w, http.StatusNotFound, "invoice not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

type invoiceStatusRequest struct {
	Status invoice.Status `json:"status"`
}

func (h *Handlers) updateInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	var req invoiceStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	id := r.PathValue("id")
	if err := h.Invoices.UpdateStatus(id, req.Status); err != nil {
		if errors.Is(err, invoice.ErrNotFound) {
			writeError(w, http.StatusNotFound, "invoice not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	inv, err := h.Invoices.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// --- Settings handlers ---

func (h *Handlers) getSettings(w http.ResponseWriter, _ *http.Request) {
	cfg, err := h.Settings.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handlers) putSettings(w http.ResponseWriter, r *http.Request) {
	var cfg automation.Settings
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.Settings.Save(cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// --- Communication log ---

func (h *Handlers) listCommunications(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}

	var (
		entries []*notify.LogEntry
		err     error
	)
	if clientID := r.URL.Query().Get("client_id"); clientID != "" {
		entries, err = h.CommLog.ForClient(clientID, limit)
	} else {
		entries, err = h.CommLog.Recent(limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*notify.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Automation ---

func (h *Handlers) runTick(w http.ResponseWriter, r *http.Request) {
	report, err := h.Coordinator.RunTick(r.Context(), time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) lastReport(w http.ResponseWriter, _ *http.Request) {
	report := h.Coordinator.LastReport()
	if report == nil {
		writeError(w, http.StatusNotFound, "no tick has run yet")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- Status / version ---

func (h *Handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.Version,
	})
}

// StatusHandler returns the status handler function for external registration.
func (h *Handlers) StatusHandler() http.HandlerFunc {
	return h.status
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
	})
}
