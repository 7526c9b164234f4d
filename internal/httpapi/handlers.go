package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"sendboard/internal/schedule"
	"sendboard/internal/storage"
	"sendboard/internal/users"
	logx "sendboard/pkg/logx"
)

const logTail = 100

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.users.Verify(req.Username, req.Password); err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		respondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	token, err := s.issueToken(req.Username, time.Now())
	if err != nil {
		s.log.Error("token issue failed", logx.String("user", req.Username), logx.Err(err))
		respondError(w, http.StatusInternalServerError, "login failed")
		return
	}
	s.log.Info("user logged in", logx.String("user", req.Username))
	respondJSON(w, http.StatusOK, map[string]string{
		"token":    token,
		"username": req.Username,
	})
}

// handleLogout is a no-op server side: tokens are stateless and simply expire.
// The endpoint exists so the dashboard has a uniform call to clear its session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	type statusResp struct {
		Ready     bool       `json:"ready"`
		ID        string     `json:"id,omitempty"`
		Name      string     `json:"name,omitempty"`
		LoginTime *time.Time `json:"loginTime,omitempty"`
	}

	sess, err := s.sessions.Get(r.Context(), tenant)
	if err != nil {
		respondJSON(w, http.StatusOK, statusResp{Ready: false})
		return
	}
	resp := statusResp{Ready: sess.Ready()}
	if id, ok := sess.Identity(); ok {
		resp.ID = id.ID
		resp.Name = id.Name
	}
	if at, ok := sess.LoginTime(); ok {
		resp.LoginTime = &at
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBotRestart(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	if err := s.sessions.Restart(r.Context(), tenant); err != nil {
		s.log.Warn("bot restart failed", logx.String("tenant", tenant), logx.Err(err))
		respondError(w, http.StatusInternalServerError, "restart failed")
		return
	}
	s.appendLog(r, tenant, storage.LogInfo, "Bot restart requested", "")
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	s.handleDirectory(w, r, true)
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	s.handleDirectory(w, r, false)
}

func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request, groups bool) {
	tenant := tenantFrom(r.Context())
	sess, err := s.sessions.Get(r.Context(), tenant)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "bot session unavailable")
		return
	}
	var list any
	if groups {
		list, err = sess.Groups(r.Context())
	} else {
		list, err = sess.Contacts(r.Context())
	}
	if err != nil {
		respondError(w, http.StatusBadGateway, "directory listing failed")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	doc, err := s.store.Load(r.Context(), tenant)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "load failed")
		return
	}
	respondJSON(w, http.StatusOK, doc.Tasks)
}

type taskRequest struct {
	Kind          storage.MessageKind   `json:"type"`
	TargetType    storage.TargetType    `json:"targetType"`
	TargetID      string                `json:"targetId"`
	TargetName    string                `json:"targetName"`
	Content       []string              `json:"content"`
	ScheduleTime  time.Time             `json:"scheduleTime"`
	Recurrence    schedule.Recurrence   `json:"recurrence"`
	IntervalValue int                   `json:"intervalValue"`
	IntervalUnit  schedule.IntervalUnit `json:"intervalUnit"`
}

func (req *taskRequest) validate() error {
	if req.Kind == "" {
		req.Kind = storage.KindText
	}
	if req.Kind != storage.KindText && req.Kind != storage.KindFile {
		return fmt.Errorf("unknown message type %q", req.Kind)
	}
	if req.TargetType != storage.TargetGroup && req.TargetType != storage.TargetContact {
		return fmt.Errorf("unknown target type %q", req.TargetType)
	}
	if req.TargetID == "" && req.TargetName == "" {
		return errors.New("target id or name is required")
	}
	if len(req.Content) == 0 {
		return errors.New("content must not be empty")
	}
	if req.ScheduleTime.IsZero() {
		return errors.New("scheduleTime is required")
	}
	if req.Recurrence == "" {
		req.Recurrence = schedule.Once
	}
	if !req.Recurrence.Valid() {
		return fmt.Errorf("unknown recurrence %q", req.Recurrence)
	}
	if req.Recurrence == schedule.Interval {
		if req.IntervalValue < 1 {
			return errors.New("intervalValue must be at least 1")
		}
		if !req.IntervalUnit.Valid() {
			return fmt.Errorf("unknown interval unit %q", req.IntervalUnit)
		}
	}
	return nil
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now()
	task := storage.Task{
		ID:            storage.NewID("task"),
		Kind:          req.Kind,
		TargetType:    req.TargetType,
		TargetID:      req.TargetID,
		TargetName:    req.TargetName,
		Content:       req.Content,
		ScheduleTime:  req.ScheduleTime,
		Recurrence:    req.Recurrence,
		IntervalValue: req.IntervalValue,
		IntervalUnit:  req.IntervalUnit,
		Status:        storage.StatusPending,
		CreatedAt:     now,
	}

	err := s.store.Update(r.Context(), tenant, func(doc *storage.Document) error {
		doc.Tasks = append(doc.Tasks, task)
		doc.Logs = append(doc.Logs, storage.LogEntry{
			ID:        storage.NewID("log"),
			Timestamp: now,
			Level:     storage.LogInfo,
			Message:   fmt.Sprintf("Task %s created for %s", task.ID, targetLabel(task.TargetName, task.TargetID)),
			TaskID:    task.ID,
		})
		return nil
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "save failed")
		return
	}
	respondJSON(w, http.StatusCreated, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	id := chi.URLParam(r, "id")

	found := false
	err := s.store.Update(r.Context(), tenant, func(doc *storage.Document) error {
		for i := range doc.Tasks {
			if doc.Tasks[i].ID != id {
				continue
			}
			doc.Tasks = append(doc.Tasks[:i], doc.Tasks[i+1:]...)
			found = true
			doc.Logs = append(doc.Logs, storage.LogEntry{
				ID:        storage.NewID("log"),
				Timestamp: time.Now(),
				Level:     storage.LogInfo,
				Message:   fmt.Sprintf("Task %s deleted", id),
				TaskID:    id,
			})
			return nil
		}
		return nil
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "save failed")
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	doc, err := s.store.Load(r.Context(), tenant)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "load failed")
		return
	}
	respondJSON(w, http.StatusOK, doc.Templates)
}

type templateRequest struct {
	Name          string                `json:"name"`
	Kind          storage.MessageKind   `json:"type"`
	Content       []string              `json:"content"`
	Targets       []storage.TargetRef   `json:"targets"`
	Recurrence    schedule.Recurrence   `json:"recurrence"`
	IntervalValue int                   `json:"intervalValue"`
	IntervalUnit  schedule.IntervalUnit `json:"intervalUnit"`
	TimeOfDay     string                `json:"timeOfDay"`
	Weekday       int                   `json:"weekday"`
	MonthDay      int                   `json:"monthDay"`
}

func (req *templateRequest) validate() error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.New("name is required")
	}
	if req.Kind == "" {
		req.Kind = storage.KindText
	}
	if req.Kind != storage.KindText && req.Kind != storage.KindFile {
		return fmt.Errorf("unknown message type %q", req.Kind)
	}
	if len(req.Content) == 0 {
		return errors.New("content must not be empty")
	}
	for _, target := range req.Targets {
		if target.Type != storage.TargetGroup && target.Type != storage.TargetContact {
			return fmt.Errorf("unknown target type %q", target.Type)
		}
		if target.ID == "" && target.Name == "" {
			return errors.New("each target needs an id or name")
		}
	}
	if req.Recurrence == "" {
		req.Recurrence = schedule.Once
	}
	if !req.Recurrence.Valid() {
		return fmt.Errorf("unknown recurrence %q", req.Recurrence)
	}

	switch req.Recurrence {
	case schedule.Daily, schedule.Weekly, schedule.Monthly:
		if _, _, err := parseHHMM(req.TimeOfDay); err != nil {
			return err
		}
	case schedule.Interval:
		if req.IntervalValue < 1 {
			return errors.New("intervalValue must be at least 1")
		}
		if !req.IntervalUnit.Valid() {
			return fmt.Errorf("unknown interval unit %q", req.IntervalUnit)
		}
	}
	if req.Recurrence == schedule.Weekly && (req.Weekday < 1 || req.Weekday > 7) {
		return errors.New("weekday must be 1 (Monday) through 7 (Sunday)")
	}
	if req.Recurrence == schedule.Monthly && (req.MonthDay < 1 || req.MonthDay > 31) {
		return errors.New("monthDay must be 1 through 31")
	}
	return nil
}

func (req *templateRequest) apply(t *storage.Template) {
	t.Name = req.Name
	t.Kind = req.Kind
	t.Content = req.Content
	t.Targets = req.Targets
	t.Recurrence = req.Recurrence
	t.IntervalValue = req.IntervalValue
	t.IntervalUnit = req.IntervalUnit
	t.TimeOfDay = req.TimeOfDay
	t.Weekday = req.Weekday
	t.MonthDay = req.MonthDay
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tmpl := storage.Template{ID: storage.NewID("tmpl"), CreatedAt: time.Now()}
	req.apply(&tmpl)

	err := s.store.Update(r.Context(), tenant, func(doc *storage.Document) error {
		doc.Templates = append(doc.Templates, tmpl)
		doc.Logs = append(doc.Logs, storage.LogEntry{
			ID:        storage.NewID("log"),
			Timestamp: time.Now(),
			Level:     storage.LogInfo,
			Message:   fmt.Sprintf("Template %q created", tmpl.Name),
		})
		return nil
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "save failed")
		return
	}
	respondJSON(w, http.StatusCreated, tmpl)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	id := chi.URLParam(r, "id")

	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var updated storage.Template
	found := false
	err := s.store.Update(r.Context(), tenant, func(doc *storage.Document) error {
		t := doc.FindTemplate(id)
		if t == nil {
			return nil
		}
		found = true
		req.apply(t)
		updated = *t
		doc.Logs = append(doc.Logs, storage.LogEntry{
			ID:        storage.NewID("log"),
			Timestamp: time.Now(),
			Level:     storage.LogInfo,
			Message:   fmt.Sprintf("Template %q updated", t.Name),
		})
		return nil
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "save failed")
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "template not found")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	id := chi.URLParam(r, "id")

	found := false
	err := s.store.Update(r.Context(), tenant, func(doc *storage.Document) error {
		for i := range doc.Templates {
			if doc.Templates[i].ID != id {
				continue
			}
			name := doc.Templates[i].Name
			doc.Templates = append(doc.Templates[:i], doc.Templates[i+1:]...)
			found = true
			doc.Logs = append(doc.Logs, storage.LogEntry{
				ID:        storage.NewID("log"),
				Timestamp: time.Now(),
				Level:     storage.LogInfo,
				Message:   fmt.Sprintf("Template %q deleted", name),
			})
			return nil
		}
		return nil
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "save failed")
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "template not found")
		return
	}
	// Tasks generated from the template keep running; only the preset is gone.
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleGenerateTasks expands a template into one pending task per target,
// with the first occurrence resolved server-side from the template's
// recurrence fields.
func (s *Server) handleGenerateTasks(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	id := chi.URLParam(r, "id")
	now := time.Now()

	var created []storage.Task
	found := false
	err := s.store.Update(r.Context(), tenant, func(doc *storage.Document) error {
		tmpl := doc.FindTemplate(id)
		if tmpl == nil {
			return nil
		}
		found = true
		if len(tmpl.Targets) == 0 {
			return errNoTargets
		}

		first, err := firstOccurrence(tmpl, now)
		if err != nil {
			return err
		}
		created = created[:0]
		for _, target := range tmpl.Targets {
			created = append(created, storage.Task{
				ID:            storage.NewID("task"),
				TemplateID:    tmpl.ID,
				Kind:          tmpl.Kind,
				TargetType:    target.Type,
				TargetID:      target.ID,
				TargetName:    target.Name,
				Content:       append([]string(nil), tmpl.Content...),
				ScheduleTime:  first,
				Recurrence:    tmpl.Recurrence,
				IntervalValue: tmpl.IntervalValue,
				IntervalUnit:  tmpl.IntervalUnit,
				Status:        storage.StatusPending,
				CreatedAt:     now,
			})
		}
		doc.Tasks = append(doc.Tasks, created...)
		doc.Logs = append(doc.Logs, storage.LogEntry{
			ID:        storage.NewID("log"),
			Timestamp: now,
			Level:     storage.LogInfo,
			Message:   fmt.Sprintf("Generated %d tasks from template %q", len(created), tmpl.Name),
		})
		return nil
	})
	if errors.Is(err, errNoTargets) {
		respondError(w, http.StatusBadRequest, "template has no targets")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "save failed")
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "template not found")
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

var errNoTargets = errors.New("template has no targets")

// firstOccurrence picks the first concrete schedule time for tasks generated
// from a template. Interval templates start one interval from now; a bare
// "once" template without a time of day fires immediately on the next sweep.
func firstOccurrence(tmpl *storage.Template, now time.Time) (time.Time, error) {
	switch tmpl.Recurrence {
	case schedule.Daily:
		hour, minute, err := parseHHMM(tmpl.TimeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		return schedule.FirstDaily(now, hour, minute), nil
	case schedule.Weekly:
		hour, minute, err := parseHHMM(tmpl.TimeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		return schedule.FirstWeekly(now, tmpl.Weekday, hour, minute), nil
	case schedule.Monthly:
		hour, minute, err := parseHHMM(tmpl.TimeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		return schedule.FirstMonthly(now, tmpl.MonthDay, hour, minute), nil
	case schedule.Interval:
		next := schedule.Next(now, schedule.Interval, tmpl.IntervalValue, tmpl.IntervalUnit, now)
		if next.IsZero() {
			return time.Time{}, errors.New("template has an invalid interval")
		}
		return next, nil
	default:
		if tmpl.TimeOfDay != "" {
			hour, minute, err := parseHHMM(tmpl.TimeOfDay)
			if err != nil {
				return time.Time{}, err
			}
			return schedule.FirstDaily(now, hour, minute), nil
		}
		return now, nil
	}
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	doc, err := s.store.Load(r.Context(), tenant)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "load failed")
		return
	}

	logs := doc.Logs
	if len(logs) > logTail {
		logs = logs[len(logs)-logTail:]
	}
	out := make([]storage.LogEntry, len(logs))
	for i, entry := range logs {
		out[len(logs)-1-i] = entry
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) appendLog(r *http.Request, tenant string, level storage.LogLevel, msg, taskID string) {
	if err := storage.AppendLog(r.Context(), s.store, tenant, level, msg, taskID); err != nil {
		s.log.Warn("activity log append failed", logx.String("tenant", tenant), logx.Err(err))
	}
}

func targetLabel(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

// parseHHMM parses a 24h "HH:MM" wall-clock string.
func parseHHMM(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("timeOfDay %q is not HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("timeOfDay %q is not HH:MM", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("timeOfDay %q is not HH:MM", s)
	}
	return hour, minute, nil
}
