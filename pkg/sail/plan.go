package sail

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shipfleet/voyage/pkg/taskstore"
	"github.com/shipfleet/voyage/pkg/types"
	"github.com/shipfleet/voyage/pkg/voyageerr"
)

// PlanConfig is the decoded voyage.json from a plan directory (§6).
type PlanConfig struct {
	RecommendedShips int    `json:"recommended_ships"`
	TotalTasks       int    `json:"total_tasks"`
	MaxParallelWidth int    `json:"max_parallel_width"`
	Repo             string `json:"repo"`
	Objective        string `json:"objective"`
}

// Plan is a loaded, validated plan directory, ready to be sailed.
type Plan struct {
	Dir       string
	Config    PlanConfig
	SpecMD    []byte
	VerifySH  []byte
	Tasks     []types.Task
}

// LoadPlan reads and validates plan_dir's contents per the §6 plan
// directory contract. It does not touch any remote system.
func LoadPlan(dir string) (Plan, error) {
	specPath := filepath.Join(dir, "spec.md")
	verifyPath := filepath.Join(dir, "verify.sh")
	configPath := filepath.Join(dir, "voyage.json")
	tasksDir := filepath.Join(dir, "tasks")

	specMD, err := os.ReadFile(specPath)
	if err != nil {
		return Plan{}, voyageerr.Wrap(voyageerr.InvalidPlan, "", "", fmt.Errorf("read spec.md: %w", err))
	}
	verifySH, err := os.ReadFile(verifyPath)
	if err != nil {
		return Plan{}, voyageerr.Wrap(voyageerr.InvalidPlan, "", "", fmt.Errorf("read verify.sh: %w", err))
	}
	configData, err := os.ReadFile(configPath)
	if err != nil {
		return Plan{}, voyageerr.Wrap(voyageerr.InvalidPlan, "", "", fmt.Errorf("read voyage.json: %w", err))
	}

	var cfg PlanConfig
	if err := json.Unmarshal(configData, &cfg); err != nil {
		return Plan{}, voyageerr.Wrap(voyageerr.InvalidPlan, "", "", fmt.Errorf("parse voyage.json: %w", err))
	}
	if cfg.Repo == "" {
		return Plan{}, voyageerr.New(voyageerr.InvalidPlan, "", "voyage.json: repo is required")
	}

	entries, err := os.ReadDir(tasksDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return Plan{}, voyageerr.Wrap(voyageerr.InvalidPlan, "", "", fmt.Errorf("read tasks/: %w", err))
		}
		entries = nil
	}

	var tasks []types.Task
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(tasksDir, e.Name()))
		if err != nil {
			return Plan{}, voyageerr.Wrap(voyageerr.InvalidPlan, "", "", fmt.Errorf("read %s: %w", e.Name(), err))
		}
		task, err := taskstore.ParseTask(data)
		if err != nil {
			return Plan{}, voyageerr.Wrap(voyageerr.TaskParseError, "", "", fmt.Errorf("parse %s: %w", e.Name(), err))
		}
		if task.Status != types.TaskPending && task.Status != "" {
			return Plan{}, voyageerr.New(voyageerr.InvalidPlan, "", fmt.Sprintf("task %s: status must be pending at publish time, got %q", task.ID, task.Status))
		}
		task.Status = types.TaskPending
		tasks = append(tasks, task)
	}

	return Plan{
		Dir:      dir,
		Config:   cfg,
		SpecMD:   specMD,
		VerifySH: verifySH,
		Tasks:    tasks,
	}, nil
}
