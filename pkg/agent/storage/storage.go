// Package storage persists plans to a workspace-scoped directory so an
// interrupted run can be resumed after a process restart. Every operation
// catches and logs I/O faults instead of propagating them: storage trouble
// must never crash the orchestration loop. At worst a plan fails to persist
// and a later resume attempt finds nothing.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/quantpilot/quantpilot/pkg/agent/types"
	"github.com/rs/zerolog/log"
)

const (
	currentFileName = "current.json"
	historyDirName  = "history"
)

// Store is a file-backed plan store. One JSON document per plan id, a
// current.json pointer naming the active plan, and a history/ directory of
// timestamped archived copies. Whole-file read-modify-write without file
// locking; one store per (user, project) session is assumed.
type Store struct {
	mu      sync.Mutex
	baseDir string
}

// storedPlan is the on-disk document: the plan plus storage metadata.
type storedPlan struct {
	*types.Plan
	Progress   types.Progress `json:"progress"`
	SavedAt    time.Time      `json:"saved_at"`
	ArchivedAt *time.Time     `json:"archived_at,omitempty"`
}

// currentPointer is the current.json document.
type currentPointer struct {
	PlanID    string           `json:"plan_id"`
	Task      string           `json:"task"`
	Status    types.PlanStatus `json:"status"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// HistorySummary is what GetHistory returns per archived plan.
type HistorySummary struct {
	PlanID     string           `json:"plan_id"`
	Task       string           `json:"task"`
	Status     types.PlanStatus `json:"status"`
	StepCount  int              `json:"step_count"`
	Version    int              `json:"version"`
	ArchivedAt time.Time        `json:"archived_at"`
}

// New creates a store rooted at baseDir (conventionally "<workspace>/.plans").
// If baseDir is empty, it defaults to "./.plans".
func New(baseDir string) (*Store, error) {
	if baseDir == "" {
		baseDir = "./.plans"
	}

	if err := os.MkdirAll(filepath.Join(baseDir, historyDirName), 0755); err != nil {
		return nil, fmt.Errorf("failed to create plans directory: %w", err)
	}

	return &Store{baseDir: baseDir}, nil
}

// BaseDir returns the directory this store writes under.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// SavePlan writes the plan document and rewrites the current pointer.
// Idempotent; safe to call after every mutation. Returns false on I/O
// failure.
func (s *Store) SavePlan(plan *types.Plan) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if plan == nil || plan.ID == "" {
		return false
	}

	doc := storedPlan{
		Plan:     plan,
		Progress: plan.GetProgress(),
		SavedAt:  time.Now(),
	}

	if !s.writeJSON(s.planPath(plan.ID), doc) {
		return false
	}

	return s.writeJSON(s.currentPath(), currentPointer{
		PlanID:    plan.ID,
		Task:      plan.Task,
		Status:    plan.Status,
		UpdatedAt: time.Now(),
	})
}

// LoadPlan reads a plan back by id. Returns nil if the file is missing or
// unparseable.
func (s *Store) LoadPlan(planID string) *types.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadPlanLocked(planID)
}

// LoadCurrentPlan reads the plan named by the current pointer, or nil.
func (s *Store) LoadCurrentPlan() *types.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()

	pointer := s.loadCurrentPointerLocked()
	if pointer == nil {
		return nil
	}

	return s.loadPlanLocked(pointer.PlanID)
}

// UpdateStepStatus loads the plan, mutates the matching step in place and
// saves it back. Returns false if the plan cannot be loaded.
func (s *Store) UpdateStepStatus(planID string, stepID int, status types.StepStatus, result *types.StepResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan := s.loadPlanLocked(planID)
	if plan == nil {
		return false
	}

	step := plan.GetStepByID(stepID)
	if step == nil {
		log.Warn().Str("plan_id", planID).Int("step_id", stepID).Msg("Step not found during status update")
		return false
	}

	step.Status = status
	if result != nil {
		step.Result = result.Response
		step.FilesChanged = result.FilesChanged
		step.ToolCalls = result.ToolCalls
		if result.Error != "" {
			step.Error = result.Error
		}
	}

	doc := storedPlan{
		Plan:     plan,
		Progress: plan.GetProgress(),
		SavedAt:  time.Now(),
	}

	return s.writeJSON(s.planPath(planID), doc)
}

// ArchivePlan writes a timestamped copy into history/, removes the active
// plan file, and clears the current pointer if and only if it still names
// this plan. Returns false on I/O failure.
func (s *Store) ArchivePlan(plan *types.Plan) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if plan == nil || plan.ID == "" {
		return false
	}

	now := time.Now()
	doc := storedPlan{
		Plan:       plan,
		Progress:   plan.GetProgress(),
		SavedAt:    now,
		ArchivedAt: &now,
	}

	archiveName := fmt.Sprintf("%s_%s.json", plan.ID, now.Format("20060102T150405"))
	if !s.writeJSON(filepath.Join(s.baseDir, historyDirName, archiveName), doc) {
		return false
	}

	if err := os.Remove(s.planPath(plan.ID)); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("plan_id", plan.ID).Msg("Failed to remove archived plan file")
		return false
	}

	// Clear the pointer only if it still names this plan, so a newer active
	// plan is never clobbered.
	if pointer := s.loadCurrentPointerLocked(); pointer != nil && pointer.PlanID == plan.ID {
		if err := os.Remove(s.currentPath()); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("plan_id", plan.ID).Msg("Failed to clear current plan pointer")
			return false
		}
	}

	return true
}

// HasUnfinishedPlan reports whether a current plan exists whose status is
// executing or awaiting_approval. The orchestrator checks this on startup
// to resume instead of starting fresh.
func (s *Store) HasUnfinishedPlan() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pointer := s.loadCurrentPointerLocked()
	if pointer == nil {
		return false
	}

	plan := s.loadPlanLocked(pointer.PlanID)
	if plan == nil {
		return false
	}

	return plan.Status == types.PlanStatusExecuting || plan.Status == types.PlanStatusAwaitingApproval
}

// GetHistory lists the most recently archived plans by file mtime,
// descending, returning summary fields only.
func (s *Store) GetHistory(limit int) []HistorySummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	historyDir := filepath.Join(s.baseDir, historyDirName)
	entries, err := os.ReadDir(historyDir)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read plan history directory")
		return nil
	}

	type archived struct {
		path    string
		modTime time.Time
	}

	var files []archived
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, archived{
			path:    filepath.Join(historyDir, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})

	if limit > 0 && limit < len(files) {
		files = files[:limit]
	}

	var summaries []HistorySummary
	for _, file := range files {
		data, err := os.ReadFile(file.path)
		if err != nil {
			continue
		}

		var doc storedPlan
		doc.Plan = &types.Plan{}
		if err := json.Unmarshal(data, &doc); err != nil {
			continue
		}

		summary := HistorySummary{
			PlanID:    doc.Plan.ID,
			Task:      doc.Plan.Task,
			Status:    doc.Plan.Status,
			StepCount: len(doc.Plan.Steps),
			Version:   doc.Plan.Version,
		}
		if doc.ArchivedAt != nil {
			summary.ArchivedAt = *doc.ArchivedAt
		} else {
			summary.ArchivedAt = file.modTime
		}
		summaries = append(summaries, summary)
	}

	return summaries
}

// Helper methods

func (s *Store) planPath(planID string) string {
	return filepath.Join(s.baseDir, planID+".json")
}

func (s *Store) currentPath() string {
	return filepath.Join(s.baseDir, currentFileName)
}

func (s *Store) loadPlanLocked(planID string) *types.Plan {
	if planID == "" {
		return nil
	}

	data, err := os.ReadFile(s.planPath(planID))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("plan_id", planID).Msg("Failed to read plan file")
		}
		return nil
	}

	plan, err := types.ParsePlan(data)
	if err != nil {
		log.Warn().Err(err).Str("plan_id", planID).Msg("Failed to parse plan file")
		return nil
	}

	return plan
}

func (s *Store) loadCurrentPointerLocked() *currentPointer {
	data, err := os.ReadFile(s.currentPath())
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("Failed to read current plan pointer")
		}
		return nil
	}

	var pointer currentPointer
	if err := json.Unmarshal(data, &pointer); err != nil {
		log.Warn().Err(err).Msg("Failed to parse current plan pointer")
		return nil
	}

	return &pointer
}

func (s *Store) writeJSON(path string, v any) bool {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to marshal plan document")
		return false
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to write plan document")
		return false
	}

	return true
}
