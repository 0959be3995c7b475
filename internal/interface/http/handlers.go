// Package http implements the REST API for Groove Charts Hub.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/groovehub/groove-charts-hub/internal/domain/chart"
	"github.com/groovehub/groove-charts-hub/internal/domain/group"
	"github.com/groovehub/groove-charts-hub/internal/domain/records"
	"github.com/groovehub/groove-charts-hub/internal/domain/shared"
	"github.com/groovehub/groove-charts-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":        "Groove Charts Hub API",
		"version":     "v1",
		"description": "REST API for collaborative weekly music charts",
		"endpoints": map[string]string{
			"health":        "/health",
			"latest_charts": "/api/v1/groups/{id}/charts/latest",
			"week_charts":   "/api/v1/groups/{id}/charts/{week}",
			"records":       "/api/v1/groups/{id}/records",
			"generate":      "/api/v1/groups/{id}/generate",
		},
	}

	writeJSON(w, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": "v1",
	})
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// CHART READ HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetLatestCharts handles GET /api/v1/groups/{id}/charts/latest.
// Cache first; any cache trouble falls back to the database.
func (s *Server) handleGetLatestCharts(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	if groupID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Group ID is required")
		return
	}

	if stats, err := s.deps.ChartCache.GetLatest(r.Context(), groupID); err == nil {
		writeJSON(w, http.StatusOK, weekResponseFrom(stats))
		return
	}

	stats, err := s.deps.Charts.GetLatestWeeklyStats(r.Context(), groupID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "not_found", "No charts generated for this group yet")
			return
		}
		s.logger.Error("failed to load latest charts", logger.GroupID(groupID), logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to load charts")
		return
	}

	writeJSON(w, http.StatusOK, weekResponseFrom(stats))
}

// handleGetWeekCharts handles GET /api/v1/groups/{id}/charts/{week}.
// The week segment is the chart week's start date as YYYY-MM-DD.
func (s *Server) handleGetWeekCharts(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	weekStart, err := time.Parse("2006-01-02", r.PathValue("week"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Week must be a date in YYYY-MM-DD format")
		return
	}

	stats, err := s.deps.Charts.GetWeeklyStats(r.Context(), groupID, weekStart.UTC())
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "not_found", "Week not generated for this group")
			return
		}
		s.logger.Error("failed to load week charts", logger.GroupID(groupID), logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to load charts")
		return
	}

	writeJSON(w, http.StatusOK, weekResponseFrom(stats))
}

// handleGetEntryStats handles GET /api/v1/groups/{id}/entries/{type}/{key}/stats.
func (s *Server) handleGetEntryStats(w http.ResponseWriter, r *http.Request) {
	groupID, chartType, key, ok := entryPath(w, r)
	if !ok {
		return
	}

	stats, err := s.deps.Stats.GetEntryStats(r.Context(), groupID, chartType, key)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "not_found", "Entry has never charted for this group")
			return
		}
		s.logger.Error("failed to load entry stats", logger.GroupID(groupID), logger.EntryKey(string(key)), logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to load entry stats")
		return
	}

	writeJSON(w, http.StatusOK, entryStatsDTOFrom(stats))
}

// handleGetEntryHistory handles GET /api/v1/groups/{id}/entries/{type}/{key}/history.
func (s *Server) handleGetEntryHistory(w http.ResponseWriter, r *http.Request) {
	groupID, chartType, key, ok := entryPath(w, r)
	if !ok {
		return
	}

	history, err := s.deps.Charts.GetEntryHistory(r.Context(), groupID, chartType, key)
	if err != nil {
		s.logger.Error("failed to load entry history", logger.GroupID(groupID), logger.EntryKey(string(key)), logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to load entry history")
		return
	}
	if len(history) == 0 {
		writeJSONError(w, http.StatusNotFound, "not_found", "Entry has never charted for this group")
		return
	}

	out := make([]historyEntryDTO, 0, len(history))
	for i := range history {
		out = append(out, historyEntryDTOFrom(&history[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// entryPath parses the shared {id}/{type}/{key} path segments.
func entryPath(w http.ResponseWriter, r *http.Request) (string, chart.Type, chart.EntryKey, bool) {
	groupID := r.PathValue("id")
	chartType := chart.Type(r.PathValue("type"))
	key := chart.EntryKey(r.PathValue("key"))

	if groupID == "" || key == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Group ID and entry key are required")
		return "", "", "", false
	}
	if !chartType.IsValid() {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Chart type must be artists, tracks or albums")
		return "", "", "", false
	}
	return groupID, chartType, key, true
}

// ══════════════════════════════════════════════════════════════════════════════
// GENERATION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleTriggerGeneration handles POST /api/v1/groups/{id}/generate.
// Generation can take minutes, so the run happens in the background and the
// response is 202 with the status URL. A held lock yields 409.
func (s *Server) handleTriggerGeneration(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	if groupID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Group ID is required")
		return
	}

	g, err := s.deps.Groups.GetByID(r.Context(), groupID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "not_found", "Group not found")
			return
		}
		s.logger.Error("failed to load group", logger.GroupID(groupID), logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to load group")
		return
	}

	if g.GenerationInProgress && !g.LockIsStale(time.Now().UTC()) {
		writeJSONError(w, http.StatusConflict, "generation_in_progress", "A generation run is already in progress for this group")
		return
	}

	go func() {
		// Detached from the request: the run outlives the HTTP response.
		result, err := s.deps.Generator.GenerateGroup(context.Background(), groupID)
		switch {
		case errors.Is(err, group.ErrGenerationInProgress):
			s.logger.Info("triggered generation lost lock race", logger.GroupID(groupID))
		case err != nil:
			s.logger.Error("triggered generation failed", logger.GroupID(groupID), logger.Err(err))
		default:
			s.logger.Info("triggered generation finished",
				logger.GroupID(groupID),
				logger.Int("weeks", result.WeeksGenerated),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "started",
		"status_url": "/api/v1/groups/" + groupID + "/generation",
	})
}

// handleGetGenerationStatus handles GET /api/v1/groups/{id}/generation.
func (s *Server) handleGetGenerationStatus(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")

	g, err := s.deps.Groups.GetByID(r.Context(), groupID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "not_found", "Group not found")
			return
		}
		s.logger.Error("failed to load group", logger.GroupID(groupID), logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to load group")
		return
	}

	resp := generationStatusDTO{
		InProgress:  g.GenerationInProgress,
		StartedAt:   g.GenerationStartedAt,
		FailedUsers: g.LastFailedUsers,
		LastAborted: g.LastAborted,
	}
	if g.GenerationProgress != nil {
		resp.Progress = &progressDTO{
			CurrentWeek: g.GenerationProgress.CurrentWeek,
			TotalWeeks:  g.GenerationProgress.TotalWeeks,
			Stage:       string(g.GenerationProgress.Stage),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORDS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetRecords handles GET /api/v1/groups/{id}/records.
func (s *Server) handleGetRecords(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")

	row, err := s.deps.Records.Get(r.Context(), groupID)
	if err != nil {
		s.logger.Error("failed to load records", logger.GroupID(groupID), logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to load records")
		return
	}
	if row == nil {
		writeJSON(w, http.StatusOK, recordsDTO{Status: string(records.StatusNotStarted)})
		return
	}

	writeJSON(w, http.StatusOK, recordsDTO{
		Status:            string(row.Status),
		Records:           row.Records,
		Error:             row.Error,
		StartedAt:         row.CalculationStartedAt,
		ChartsGeneratedAt: row.ChartsGeneratedAt,
	})
}

// handleRebuildRecords handles POST /api/v1/groups/{id}/records/rebuild.
// Enqueues a full recalculation; the worker picks it up on its next pass.
func (s *Server) handleRebuildRecords(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	if groupID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Group ID is required")
		return
	}

	if _, err := s.deps.Groups.GetByID(r.Context(), groupID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "not_found", "Group not found")
			return
		}
		s.logger.Error("failed to load group", logger.GroupID(groupID), logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to load group")
		return
	}

	job := &records.Job{
		GroupID:    groupID,
		Touched:    nil, // full rebuild
		EnqueuedAt: time.Now().UTC(),
	}
	if err := s.deps.Queue.Enqueue(r.Context(), job); err != nil {
		s.logger.Error("failed to enqueue records rebuild", logger.GroupID(groupID), logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to enqueue rebuild")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":      "queued",
		"records_url": "/api/v1/groups/" + groupID + "/records",
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE DTOS
// ══════════════════════════════════════════════════════════════════════════════

type entryDTO struct {
	Position  int      `json:"position"`
	Key       string   `json:"key"`
	Name      string   `json:"name"`
	Artist    string   `json:"artist,omitempty"`
	Playcount int      `json:"playcount"`
	VibeScore *float64 `json:"vibe_score,omitempty"`
	Change    *int     `json:"change,omitempty"`
	EntryType string   `json:"entry_type"`
}

type trendEntryDTO struct {
	ChartType string `json:"chart_type"`
	Key       string `json:"key"`
	Name      string `json:"name"`
	Artist    string `json:"artist,omitempty"`
	Position  int    `json:"position"`
	Change    int    `json:"change,omitempty"`
}

type trendsDTO struct {
	Debuts   []trendEntryDTO `json:"debuts,omitempty"`
	Climbers []trendEntryDTO `json:"climbers,omitempty"`
	Fallers  []trendEntryDTO `json:"fallers,omitempty"`
}

type weekResponse struct {
	GroupID     string                `json:"group_id"`
	WeekStart   time.Time             `json:"week_start"`
	WeekEnd     time.Time             `json:"week_end"`
	GeneratedAt time.Time             `json:"generated_at"`
	Charts      map[string][]entryDTO `json:"charts"`
	Trends      *trendsDTO            `json:"trends,omitempty"`
}

func weekResponseFrom(stats *chart.WeeklyStats) weekResponse {
	resp := weekResponse{
		GroupID:     stats.GroupID,
		WeekStart:   stats.WeekStart,
		WeekEnd:     stats.WeekEnd,
		GeneratedAt: stats.GeneratedAt,
		Charts:      make(map[string][]entryDTO, len(stats.Top)),
	}
	for chartType, entries := range stats.Top {
		list := make([]entryDTO, 0, len(entries))
		for i := range entries {
			e := &entries[i]
			list = append(list, entryDTO{
				Position:  int(e.Position),
				Key:       string(e.Key),
				Name:      e.Name,
				Artist:    e.Artist,
				Playcount: e.Playcount,
				VibeScore: e.VibeScore,
				Change:    e.PositionChange,
				EntryType: string(e.EntryType),
			})
		}
		resp.Charts[string(chartType)] = list
	}
	if stats.Trends != nil {
		resp.Trends = &trendsDTO{
			Debuts:   trendEntryDTOsFrom(stats.Trends.Debuts),
			Climbers: trendEntryDTOsFrom(stats.Trends.Climbers),
			Fallers:  trendEntryDTOsFrom(stats.Trends.Fallers),
		}
	}
	return resp
}

func trendEntryDTOsFrom(list []chart.TrendEntry) []trendEntryDTO {
	out := make([]trendEntryDTO, 0, len(list))
	for _, t := range list {
		out = append(out, trendEntryDTO{
			ChartType: string(t.ChartType),
			Key:       string(t.Key),
			Name:      t.Name,
			Artist:    t.Artist,
			Position:  int(t.Position),
			Change:    t.Change,
		})
	}
	return out
}

type historyEntryDTO struct {
	WeekStart time.Time `json:"week_start"`
	Position  int       `json:"position"`
	Playcount int       `json:"playcount"`
	VibeScore *float64  `json:"vibe_score,omitempty"`
	Change    *int      `json:"change,omitempty"`
	EntryType string    `json:"entry_type"`
}

func historyEntryDTOFrom(e *chart.Entry) historyEntryDTO {
	return historyEntryDTO{
		WeekStart: e.WeekStart,
		Position:  int(e.Position),
		Playcount: e.Playcount,
		VibeScore: e.VibeScore,
		Change:    e.PositionChange,
		EntryType: string(e.EntryType),
	}
}

type entryStatsDTO struct {
	ChartType         string     `json:"chart_type"`
	Key               string     `json:"key"`
	Name              string     `json:"name"`
	Artist            string     `json:"artist,omitempty"`
	PeakPosition      int        `json:"peak_position"`
	WeeksAtPeak       int        `json:"weeks_at_peak"`
	DebutPosition     int        `json:"debut_position"`
	DebutWeek         time.Time  `json:"debut_week"`
	WeeksInTop10      int        `json:"weeks_in_top10"`
	TotalWeeks        int        `json:"total_weeks"`
	WeeksAtOne        int        `json:"weeks_at_one"`
	TotalPlays        int        `json:"total_plays"`
	TotalScore        float64    `json:"total_score"`
	LongestStreak     int        `json:"longest_streak"`
	StreakStart       *time.Time `json:"streak_start,omitempty"`
	StreakEnd         *time.Time `json:"streak_end,omitempty"`
	CurrentlyCharting bool       `json:"currently_charting"`
	LatestWeek        time.Time  `json:"latest_week"`
}

func entryStatsDTOFrom(s *records.EntryStats) entryStatsDTO {
	dto := entryStatsDTO{
		ChartType:         string(s.ChartType),
		Key:               string(s.Key),
		Name:              s.Name,
		Artist:            s.Artist,
		PeakPosition:      int(s.PeakPosition),
		WeeksAtPeak:       s.WeeksAtPeak,
		DebutPosition:     int(s.DebutPosition),
		DebutWeek:         s.DebutWeek,
		WeeksInTop10:      s.WeeksInTop10,
		TotalWeeks:        s.TotalWeeks,
		WeeksAtOne:        s.WeeksAtOne,
		TotalPlays:        s.TotalPlays,
		TotalScore:        s.TotalScore,
		LongestStreak:     s.LongestStreak,
		CurrentlyCharting: s.CurrentlyCharting,
		LatestWeek:        s.LatestWeek,
	}
	if !s.LongestStreakStart.IsZero() {
		start, end := s.LongestStreakStart, s.LongestStreakEnd
		dto.StreakStart = &start
		dto.StreakEnd = &end
	}
	return dto
}

type progressDTO struct {
	CurrentWeek int    `json:"current_week"`
	TotalWeeks  int    `json:"total_weeks"`
	Stage       string `json:"stage"`
}

type generationStatusDTO struct {
	InProgress  bool         `json:"in_progress"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	Progress    *progressDTO `json:"progress,omitempty"`
	FailedUsers []string     `json:"failed_users,omitempty"`
	LastAborted bool         `json:"last_aborted"`
}

type recordsDTO struct {
	Status            string        `json:"status"`
	Records           *records.Blob `json:"records,omitempty"`
	Error             string        `json:"error,omitempty"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	ChartsGeneratedAt *time.Time    `json:"charts_generated_at,omitempty"`
}
