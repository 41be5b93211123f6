package templates

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nexus-kamuy/orchestrator/internal/agent"
	ometrics "github.com/nexus-kamuy/orchestrator/internal/metrics"
)

// Registry maintains an in-memory catalogue of workflow templates. The
// built-in catalogue is always present; YAML files loaded from disk extend it.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Entry
}

// Entry captures a loaded template alongside bookkeeping data.
type Entry struct {
	Key         string
	Template    *Template
	SourcePath  string
	ContentHash string
	LoadedAt    time.Time
}

// TemplateSummary exposes lightweight information about a registered template.
type TemplateSummary struct {
	Name        string
	Version     string
	Key         string
	ContentHash string
	SourcePath  string
}

// NewRegistry constructs a registry preloaded with the built-in catalogue.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]Entry)}
	for _, tpl := range builtinTemplates() {
		key := MakeKey(tpl.Name, tpl.Version)
		r.templates[key] = Entry{
			Key:        key,
			Template:   tpl,
			SourcePath: "builtin",
			LoadedAt:   time.Now().UTC(),
		}
		ometrics.TemplatesLoaded.WithLabelValues(tpl.Name).Inc()
	}
	return r
}

// LoadDirectory loads every YAML template under the provided directory.
func (r *Registry) LoadDirectory(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat template directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("template path %s is not a directory", root)
	}

	var failures []string
	walkFn := func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", path, walkErr))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !isYAML(path) {
			return nil
		}
		if err := r.loadFile(path); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", path, err))
		}
		return nil
	}

	if err := filepath.WalkDir(root, walkFn); err != nil {
		return fmt.Errorf("walk template directory %s: %w", root, err)
	}

	if len(failures) > 0 {
		return &LoadError{Failures: failures}
	}
	return nil
}

// Get returns the template entry that matches the supplied key.
func (r *Registry) Get(key string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.templates[key]
	return entry, ok
}

// Find attempts to locate a template entry by name and optional version.
// When version is empty, the highest registered version wins.
func (r *Registry) Find(name, version string) (Entry, bool) {
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)
	if name == "" {
		return Entry{}, false
	}

	if entry, ok := r.Get(MakeKey(name, version)); ok {
		return entry, true
	}

	if version != "" {
		return Entry{}, false
	}

	summaries := r.List()
	for i := len(summaries) - 1; i >= 0; i-- {
		if summaries[i].Name == name {
			if entry, ok := r.Get(summaries[i].Key); ok {
				return entry, true
			}
		}
	}
	return Entry{}, false
}

// List summaries of all currently loaded templates.
func (r *Registry) List() []TemplateSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]TemplateSummary, 0, len(r.templates))
	for _, entry := range r.templates {
		summaries = append(summaries, TemplateSummary{
			Name:        entry.Template.Name,
			Version:     entry.Template.Version,
			Key:         entry.Key,
			ContentHash: entry.ContentHash,
			SourcePath:  entry.SourcePath,
		})
	}
	sortSummaries(summaries)
	return summaries
}

func (r *Registry) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	tpl, err := LoadTemplate(bytes.NewReader(data))
	if err != nil {
		ometrics.TemplateValidationErrors.WithLabelValues("decode").Inc()
		return err
	}

	if err := ValidateTemplate(tpl); err != nil {
		if vErr, ok := err.(*ValidationError); ok {
			for _, issue := range vErr.Issues {
				ometrics.TemplateValidationErrors.WithLabelValues(issue.Code).Inc()
			}
		} else {
			ometrics.TemplateValidationErrors.WithLabelValues("validate").Inc()
		}
		return err
	}

	key := MakeKey(tpl.Name, tpl.Version)

	r.mu.Lock()
	defer r.mu.Unlock()

	// Reloading the same file replaces its entry; two distinct disk files
	// claiming one key is still an error.
	if existing, exists := r.templates[key]; exists && existing.SourcePath != "builtin" && existing.SourcePath != path {
		ometrics.TemplateValidationErrors.WithLabelValues("duplicate").Inc()
		return fmt.Errorf("duplicate template key '%s'", key)
	}

	hash := sha256.Sum256(data)
	r.templates[key] = Entry{
		Key:         key,
		Template:    tpl,
		SourcePath:  path,
		ContentHash: hex.EncodeToString(hash[:]),
		LoadedAt:    time.Now().UTC(),
	}
	ometrics.TemplatesLoaded.WithLabelValues(tpl.Name).Inc()
	return nil
}

// MakeKey produces the canonical map key for a template name/version pair.
func MakeKey(name, version string) string {
	n := strings.TrimSpace(name)
	v := strings.TrimSpace(version)
	if v == "" {
		return n
	}
	return fmt.Sprintf("%s@%s", n, v)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func sortSummaries(summaries []TemplateSummary) {
	if len(summaries) < 2 {
		return
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Name == summaries[j].Name {
			return summaries[i].Version < summaries[j].Version
		}
		return summaries[i].Name < summaries[j].Name
	})
}

// LoadError aggregates template loading failures.
type LoadError struct {
	Failures []string
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if len(e.Failures) == 0 {
		return "template load failed"
	}
	return fmt.Sprintf("%d template(s) failed to load: %s", len(e.Failures), strings.Join(e.Failures, "; "))
}

// IsLoadError returns true when err represents aggregated template load failures.
func IsLoadError(err error) bool {
	_, ok := err.(*LoadError)
	return ok
}

func builtinTemplates() []*Template {
	return []*Template{
		{
			Name:        "security_assessment",
			Description: "Full security assessment: recon, analysis, compliance review, reporting",
			Steps: []StepTemplate{
				{Name: "reconnaissance", Agent: agent.RoleBugHunter, Type: "scan"},
				{Name: "vulnerability_analysis", Agent: agent.RoleBugHunter, Type: "analysis"},
				{Name: "infrastructure_review", Agent: agent.RoleDaedelu5, Type: "compliance"},
				{Name: "report_generation", Agent: agent.RoleNexusKamuy, Type: "reporting"},
			},
		},
		{
			Name:        "penetration_test",
			Description: "Staged penetration test from reconnaissance through cleanup",
			Steps: []StepTemplate{
				{Name: "target_reconnaissance", Agent: agent.RoleBugHunter, Type: "recon"},
				{Name: "vulnerability_scanning", Agent: agent.RoleBurpsuiteOperator, Type: "scan"},
				{Name: "exploitation_attempts", Agent: agent.RoleBugHunter, Type: "exploit"},
				{Name: "privilege_escalation", Agent: agent.RoleBugHunter, Type: "escalation"},
				{Name: "persistence_testing", Agent: agent.RoleBugHunter, Type: "persistence"},
				{Name: "cleanup_and_reporting", Agent: agent.RoleNexusKamuy, Type: "cleanup"},
			},
		},
		{
			Name:        "infrastructure_deployment",
			Description: "Plan, generate, deploy, validate and monitor infrastructure changes",
			Steps: []StepTemplate{
				{Name: "infrastructure_planning", Agent: agent.RoleDaedelu5, Type: "planning"},
				{Name: "code_generation", Agent: agent.RoleRTDev, Type: "generation"},
				{Name: "deployment_execution", Agent: agent.RoleDaedelu5, Type: "deployment"},
				{Name: "security_validation", Agent: agent.RoleDaedelu5, Type: "validation"},
				{Name: "monitoring_setup", Agent: agent.RoleNexusKamuy, Type: "monitoring"},
			},
		},
	}
}
