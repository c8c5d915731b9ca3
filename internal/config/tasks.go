package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"xianyuwatch/internal/types"
)

// CriteriaPlaceholder marks where the criteria text goes in a base rubric.
const CriteriaPlaceholder = "{{CRITERIA_SECTION}}"

// taskEntry accepts the current and legacy task field names.
type taskEntry struct {
	types.Task
	LegacyCriteria string `json:"ai_prompt_criteria_file,omitempty"`
	LegacyBase     string `json:"ai_prompt_base_file,omitempty"`
}

// LoadTasks reads the JSON task array at path. Tasks without a page limit
// get one page.
func LoadTasks(path string) ([]types.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks: %w", err)
	}
	var entries []taskEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse tasks: %w", err)
	}

	tasks := make([]types.Task, 0, len(entries))
	for _, e := range entries {
		t := e.Task
		if t.RubricReference == "" {
			t.RubricReference = e.LegacyCriteria
		}
		if t.RubricBase == "" {
			t.RubricBase = e.LegacyBase
		}
		if t.MaxPages <= 0 {
			t.MaxPages = 1
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// ValidateTasks rejects unnamed or duplicate tasks, and enabled tasks that
// cannot run or that would share a record store.
func ValidateTasks(tasks []types.Task) error {
	names := make(map[string]bool)
	var enabled []types.Task
	for i, t := range tasks {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("task %d: task_name is required", i)
		}
		if names[t.Name] {
			return fmt.Errorf("task %q: duplicate task_name", t.Name)
		}
		names[t.Name] = true
		if t.Enabled {
			enabled = append(enabled, t)
		}
	}
	return ValidateRunnable(enabled)
}

// ValidateRunnable checks that every given task can run, whether or not it
// is enabled, and that no two of them share a record store.
func ValidateRunnable(tasks []types.Task) error {
	stores := make(map[string]string)
	for _, t := range tasks {
		if strings.TrimSpace(t.Keyword) == "" {
			return fmt.Errorf("task %q: keyword is required", t.Name)
		}
		if t.RubricReference == "" {
			return fmt.Errorf("task %q: rubric_reference is required", t.Name)
		}
		store := t.RecordFileName()
		if other, ok := stores[store]; ok {
			return fmt.Errorf("tasks %q and %q share record store %s", other, t.Name, store)
		}
		stores[store] = t.Name
	}
	return nil
}

// Enabled returns the enabled tasks. When names are given it returns exactly
// the named tasks instead, enabled or not, in task store order.
func Enabled(tasks []types.Task, names ...string) ([]types.Task, error) {
	selecting := len(names) > 0
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	found := make(map[string]bool, len(names))
	var out []types.Task
	for _, t := range tasks {
		if selecting {
			if !want[t.Name] {
				continue
			}
			found[t.Name] = true
		} else if !t.Enabled {
			continue
		}
		out = append(out, t)
	}
	for _, n := range names {
		if !found[n] {
			return nil, fmt.Errorf("unknown task %q", n)
		}
	}
	return out, nil
}

// ResolveRubric returns the task's rubric text. Relative references resolve
// against dir. When a base rubric is set, the criteria text replaces its
// placeholder.
func ResolveRubric(task types.Task, dir string) (string, error) {
	criteria, err := readRelative(dir, task.RubricReference)
	if err != nil {
		return "", fmt.Errorf("task %q rubric: %w", task.Name, err)
	}
	if task.RubricBase == "" {
		return criteria, nil
	}
	base, err := readRelative(dir, task.RubricBase)
	if err != nil {
		return "", fmt.Errorf("task %q rubric base: %w", task.Name, err)
	}
	if !strings.Contains(base, CriteriaPlaceholder) {
		return "", fmt.Errorf("task %q rubric base has no %s placeholder", task.Name, CriteriaPlaceholder)
	}
	return strings.ReplaceAll(base, CriteriaPlaceholder, criteria), nil
}

func readRelative(dir, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("no file configured")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
