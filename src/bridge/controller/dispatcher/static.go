package dispatcher

import (
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/uber/lsp-bridge/src/bridge/entity"
	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
)

const (
	_manifestName = "Cargo.toml"
	_sourceDir    = "src"
	_rustExt      = ".rs"
)

type toolsListResult struct {
	Tools []mcp.Tool `json:"tools"`
}

type engineInfo struct {
	Enabled bool   `json:"enabled"`
	State   string `json:"state"`
}

type capabilitiesResult struct {
	Name         string              `json:"name"`
	Version      string              `json:"version"`
	Capabilities map[string][]string `json:"capabilities"`
	Engine       engineInfo          `json:"engine"`
}

type moduleEntry struct {
	Name       string        `json:"name"`
	Type       string        `json:"type"`
	Path       string        `json:"path"`
	Submodules []moduleEntry `json:"submodules,omitempty"`
}

type projectStructureResult struct {
	Root    string        `json:"root"`
	Type    string        `json:"type,omitempty"`
	Members []string      `json:"members,omitempty"`
	Modules []moduleEntry `json:"modules"`
}

type dependencySpec struct {
	Version  string   `json:"version,omitempty"`
	Path     string   `json:"path,omitempty"`
	Git      string   `json:"git,omitempty"`
	Features []string `json:"features,omitempty"`
	Optional bool     `json:"optional,omitempty"`
}

type dependenciesResult struct {
	Package           string                    `json:"package,omitempty"`
	Dependencies      map[string]dependencySpec `json:"dependencies"`
	DevDependencies   map[string]dependencySpec `json:"dev_dependencies"`
	BuildDependencies map[string]dependencySpec `json:"build_dependencies"`
	WorkspaceMembers  []string                  `json:"workspace_members,omitempty"`
	ManifestFound     bool                      `json:"manifest_found"`
}

// cargoManifest is the subset of Cargo.toml read by the bridge.
type cargoManifest struct {
	Package *struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Dependencies      map[string]interface{} `toml:"dependencies"`
	DevDependencies   map[string]interface{} `toml:"dev-dependencies"`
	BuildDependencies map[string]interface{} `toml:"build-dependencies"`
	Workspace         *struct {
		Members      []string               `toml:"members"`
		Dependencies map[string]interface{} `toml:"dependencies"`
	} `toml:"workspace"`
}

type sourceMetrics struct {
	FileCount      int    `json:"file_count"`
	TotalLines     int    `json:"total_lines"`
	CodeLines      int    `json:"code_lines"`
	CommentLines   int    `json:"comment_lines"`
	BlankLines     int    `json:"blank_lines"`
	CodePercentage string `json:"code_percentage"`
	Functions      int    `json:"functions"`
	Structs        int    `json:"structs"`
	Enums          int    `json:"enums"`
	Traits         int    `json:"traits"`
}

type codeMetricsResult struct {
	Path    string        `json:"path"`
	Metrics sourceMetrics `json:"metrics"`
}

func (c *controller) capabilities() capabilitiesResult {
	return capabilitiesResult{
		Name:         entity.ProductName,
		Version:      entity.Version,
		Capabilities: c.catalog.byCategory(),
		Engine: engineInfo{
			Enabled: c.engine.Enabled(),
			State:   c.engine.State().String(),
		},
	}
}

func (c *controller) projectStructure() (interface{}, error) {
	root := c.root()
	modules, err := c.walkModules(filepath.Join(root, _sourceDir))
	if err != nil {
		return nil, bridgeerrors.Wrap(bridgeerrors.KindInternal, err, "walking %s", _sourceDir)
	}
	result := projectStructureResult{Root: root, Modules: modules}

	manifest, found, err := c.readManifest()
	if err != nil {
		return nil, err
	}
	if found {
		if manifest.Workspace != nil {
			result.Type = "workspace"
			result.Members = manifest.Workspace.Members
		} else {
			result.Type = "package"
		}
	}
	return result, nil
}

func (c *controller) walkModules(dir string) ([]moduleEntry, error) {
	modules := []moduleEntry{}
	exists, err := c.fs.DirExists(dir)
	if err != nil || !exists {
		return modules, err
	}

	entries, err := c.fs.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(dir, name)
		switch {
		case e.IsDir() && !strings.HasPrefix(name, "."):
			sub, err := c.walkModules(path)
			if err != nil {
				return nil, err
			}
			modules = append(modules, moduleEntry{Name: name, Type: "directory", Path: path, Submodules: sub})
		case !e.IsDir() && filepath.Ext(name) == _rustExt:
			kind := "file"
			if name == "mod.rs" || name == "lib.rs" || name == "main.rs" {
				kind = "module"
			}
			modules = append(modules, moduleEntry{Name: name, Type: kind, Path: path})
		}
	}
	return modules, nil
}

func (c *controller) analyzeDependencies() (interface{}, error) {
	result := dependenciesResult{
		Dependencies:      map[string]dependencySpec{},
		DevDependencies:   map[string]dependencySpec{},
		BuildDependencies: map[string]dependencySpec{},
	}

	manifest, found, err := c.readManifest()
	if err != nil || !found {
		return result, err
	}
	result.ManifestFound = true
	if manifest.Package != nil {
		result.Package = manifest.Package.Name
	}
	addDependencies(result.Dependencies, manifest.Dependencies)
	addDependencies(result.DevDependencies, manifest.DevDependencies)
	addDependencies(result.BuildDependencies, manifest.BuildDependencies)
	if manifest.Workspace != nil {
		result.WorkspaceMembers = manifest.Workspace.Members
		addDependencies(result.Dependencies, manifest.Workspace.Dependencies)
	}
	return result, nil
}

func (c *controller) readManifest() (cargoManifest, bool, error) {
	var manifest cargoManifest
	path := filepath.Join(c.root(), _manifestName)
	exists, err := c.fs.FileExists(path)
	if err != nil {
		return manifest, false, bridgeerrors.Wrap(bridgeerrors.KindInternal, err, "checking %s", _manifestName)
	}
	if !exists {
		return manifest, false, nil
	}

	data, err := c.fs.ReadFile(path)
	if err != nil {
		return manifest, false, bridgeerrors.Wrap(bridgeerrors.KindInternal, err, "reading %s", _manifestName)
	}
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return manifest, false, bridgeerrors.Wrap(bridgeerrors.KindInternal, err, "parsing %s", _manifestName)
	}
	return manifest, true, nil
}

// addDependencies accepts both `name = "1.0"` and `name = { version = "1.0", ... }` forms.
func addDependencies(dst map[string]dependencySpec, src map[string]interface{}) {
	for name, value := range src {
		switch v := value.(type) {
		case string:
			dst[name] = dependencySpec{Version: v}
		case map[string]interface{}:
			spec := dependencySpec{}
			spec.Version, _ = v["version"].(string)
			spec.Path, _ = v["path"].(string)
			spec.Git, _ = v["git"].(string)
			spec.Optional, _ = v["optional"].(bool)
			if ws, _ := v["workspace"].(bool); ws && spec.Version == "" {
				spec.Version = "workspace"
			}
			if features, ok := v["features"].([]interface{}); ok {
				for _, f := range features {
					if s, ok := f.(string); ok {
						spec.Features = append(spec.Features, s)
					}
				}
			}
			dst[name] = spec
		}
	}
}

func (c *controller) codeMetrics(cmd entity.Command) (interface{}, error) {
	root := c.root()
	target := filepath.Join(root, _sourceDir)
	if module, ok := stringParam(cmd, _paramModule); ok {
		target = filepath.Join(root, module)
		if rel, err := filepath.Rel(root, target); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, bridgeerrors.New(bridgeerrors.KindInvalidParams, "module %q is outside the project", module)
		}
	}

	isDir, err := c.fs.DirExists(target)
	if err != nil {
		return nil, bridgeerrors.Wrap(bridgeerrors.KindInternal, err, "checking %s", target)
	}
	isFile, err := c.fs.FileExists(target)
	if err != nil {
		return nil, bridgeerrors.Wrap(bridgeerrors.KindInternal, err, "checking %s", target)
	}

	var m sourceMetrics
	switch {
	case isFile:
		if filepath.Ext(target) == _rustExt {
			if err := c.addFileMetrics(&m, target); err != nil {
				return nil, err
			}
		}
	case isDir:
		err := c.fs.WalkDir(target, func(path string, d iofs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != target && (strings.HasPrefix(d.Name(), ".") || d.Name() == "target") {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) != _rustExt {
				return nil
			}
			return c.addFileMetrics(&m, path)
		})
		if err != nil {
			return nil, bridgeerrors.Wrap(bridgeerrors.KindInternal, err, "walking %s", target)
		}
	default:
		return nil, bridgeerrors.New(bridgeerrors.KindInvalidParams, "module path %s does not exist", target)
	}

	m.CodePercentage = "0.0%"
	if m.TotalLines > 0 {
		m.CodePercentage = fmt.Sprintf("%.1f%%", float64(m.CodeLines)/float64(m.TotalLines)*100)
	}
	return codeMetricsResult{Path: target, Metrics: m}, nil
}

func (c *controller) addFileMetrics(m *sourceMetrics, path string) error {
	content, err := c.fs.ReadFile(path)
	if err != nil {
		return err
	}
	m.FileCount++
	countLines(m, string(content))
	return nil
}

var _itemPrefixes = []struct {
	prefixes []string
	field    func(*sourceMetrics) *int
}{
	{[]string{"fn ", "pub fn ", "async fn ", "pub async fn "}, func(m *sourceMetrics) *int { return &m.Functions }},
	{[]string{"struct ", "pub struct "}, func(m *sourceMetrics) *int { return &m.Structs }},
	{[]string{"enum ", "pub enum "}, func(m *sourceMetrics) *int { return &m.Enums }},
	{[]string{"trait ", "pub trait "}, func(m *sourceMetrics) *int { return &m.Traits }},
}

// countLines classifies each line as comment, blank or code, and counts item declarations
// that start a code line.
func countLines(m *sourceMetrics, content string) {
	if content == "" {
		return
	}
	inBlock := false
	for _, line := range strings.Split(strings.TrimSuffix(content, "\n"), "\n") {
		m.TotalLines++
		trimmed := strings.TrimSpace(line)

		switch {
		case inBlock:
			m.CommentLines++
			if strings.Contains(trimmed, "*/") {
				inBlock = false
			}
		case strings.HasPrefix(trimmed, "/*"):
			m.CommentLines++
			inBlock = !strings.Contains(trimmed, "*/")
		case strings.HasPrefix(trimmed, "//"):
			m.CommentLines++
		case trimmed == "":
			m.BlankLines++
		default:
			m.CodeLines++
			countItem(m, trimmed)
		}
	}
}

func countItem(m *sourceMetrics, line string) {
	for _, item := range _itemPrefixes {
		for _, prefix := range item.prefixes {
			if strings.HasPrefix(line, prefix) {
				*item.field(m)++
				return
			}
		}
	}
}
