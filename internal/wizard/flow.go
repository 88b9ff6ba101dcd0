package wizard

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// StepKind names the component a step is bound to.
type StepKind string

const (
	KindUploader    StepKind = "uploader"
	KindSummary     StepKind = "summary"
	KindGrid        StepKind = "grid"
	KindRowViewer   StepKind = "row-viewer"
	KindProcessor   StepKind = "processor"
	KindForm        StepKind = "form"
	KindSelection   StepKind = "selection"
	KindFlowDiagram StepKind = "flow-diagram"
	KindReview      StepKind = "review"
	KindBlank       StepKind = "blank"
)

var knownKinds = map[StepKind]struct{}{
	KindUploader: {}, KindSummary: {}, KindGrid: {}, KindRowViewer: {}, KindProcessor: {},
	KindForm: {}, KindSelection: {}, KindFlowDiagram: {}, KindReview: {}, KindBlank: {},
}

// ErrFlowNotFound is returned when a flow name is not registered.
var ErrFlowNotFound = errors.New("flow not found")

// Option is a choice offered by a selection step.
type Option struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Step is one page of a wizard.
type Step struct {
	ID       string   `yaml:"id" json:"id"`
	Title    string   `yaml:"title" json:"title"`
	Kind     StepKind `yaml:"kind" json:"kind"`
	Subtasks []string `yaml:"subtasks,omitempty" json:"subtasks,omitempty"`
	Options  []Option `yaml:"options,omitempty" json:"options,omitempty"`
}

// Flow is an ordered list of steps.
type Flow struct {
	Name        string `yaml:"name" json:"name"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []Step `yaml:"steps" json:"steps"`
}

// StepsOfKind returns the indices of every step of the given kind.
func (f *Flow) StepsOfKind(kind StepKind) []int {
	var out []int
	for i, s := range f.Steps {
		if s.Kind == kind {
			out = append(out, i)
		}
	}
	return out
}

// Validate checks that the flow has steps with unique ids and known kinds.
func (f *Flow) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("flow name is required")
	}
	if len(f.Steps) == 0 {
		return fmt.Errorf("flow %s: %w", f.Name, ErrNoSteps)
	}
	seen := make(map[string]struct{}, len(f.Steps))
	for i, s := range f.Steps {
		if s.ID == "" {
			return fmt.Errorf("flow %s: step %d has no id", f.Name, i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("flow %s: duplicate step id %q", f.Name, s.ID)
		}
		seen[s.ID] = struct{}{}
		if _, ok := knownKinds[s.Kind]; !ok {
			return fmt.Errorf("flow %s: step %s has unknown kind %q", f.Name, s.ID, s.Kind)
		}
	}
	return nil
}

// ParseFlow decodes and validates a YAML flow definition.
func ParseFlow(r io.Reader) (*Flow, error) {
	var f Flow
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse flow: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

//go:embed flows/*.yaml
var builtinFlows embed.FS

// Catalog holds the flows a wizard session can be started with.
type Catalog struct {
	mu    sync.RWMutex
	flows map[string]*Flow
}

// NewCatalog returns a catalog preloaded with the built-in flows.
func NewCatalog() (*Catalog, error) {
	c := &Catalog{flows: make(map[string]*Flow)}
	if err := c.loadFS(builtinFlows, "flows"); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadDir adds every *.yaml/*.yml flow in dir, replacing flows of the same name.
// A missing directory is not an error.
func (c *Catalog) LoadDir(dir string) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	return c.loadFS(os.DirFS(dir), ".")
}

func (c *Catalog) loadFS(fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return fmt.Errorf("reading flows: %w", err)
	}
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		f, err := fsys.Open(joinFS(root, e.Name()))
		if err != nil {
			return fmt.Errorf("opening flow %s: %w", e.Name(), err)
		}
		flow, err := ParseFlow(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		c.Add(flow)
	}
	return nil
}

func joinFS(root, name string) string {
	if root == "." {
		return name
	}
	return root + "/" + name
}

// Add registers a flow.
func (c *Catalog) Add(f *Flow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flows[f.Name] = f
}

// Get returns the named flow.
func (c *Catalog) Get(name string) (*Flow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.flows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, name)
	}
	return f, nil
}

// List returns all flows sorted by name.
func (c *Catalog) List() []*Flow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Flow, 0, len(c.flows))
	for _, f := range c.flows {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultFlow is used when a session is created without naming a flow.
const DefaultFlow = "data-pipeline"
