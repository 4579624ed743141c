package dispatcher

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Command names in the catalog.
const (
	ToolAnalyzeSymbol       = "analyze_symbol"
	ToolFindReferences      = "find_references"
	ToolGetHover            = "get_hover"
	ToolFindImplementations = "find_implementations"
	ToolGetDiagnostics      = "get_diagnostics"

	ToolComplete       = "complete"
	ToolSignatureHelp  = "signature_help"
	ToolGetCompletions = "get_completions"
	ToolResolveImport  = "resolve_import"
	ToolExpandSnippet  = "expand_snippet"

	ToolRename          = "rename"
	ToolExtractFunction = "extract_function"
	ToolInline          = "inline"
	ToolOrganizeImports = "organize_imports"

	ToolProjectStructure    = "project_structure"
	ToolAnalyzeDependencies = "analyze_dependencies"
	ToolCodeMetrics         = "code_metrics"
	ToolFindDeadCode        = "find_dead_code"
	ToolSuggestImprovements = "suggest_improvements"

	ToolCapabilities = "capabilities"
	ToolsList        = "tools/list"
)

// Categories group commands in the capabilities listing.
const (
	CategoryAnalysis    = "analysis"
	CategoryCompletion  = "completion"
	CategoryRefactoring = "refactoring"
	CategoryMetrics     = "metrics"
	CategoryBridge      = "bridge"
)

const (
	_paramFile               = "file"
	_paramLine               = "line"
	_paramColumn             = "column"
	_paramName               = "name"
	_paramIncludeDeclaration = "include_declaration"
	_paramContext            = "context"
	_paramSymbol             = "symbol"
	_paramNewName            = "new_name"
	_paramStartLine          = "start_line"
	_paramStartColumn        = "start_column"
	_paramEndLine            = "end_line"
	_paramEndColumn          = "end_column"
	_paramModule             = "module"
	_paramTimeoutMS          = "timeout_ms"
)

var _categoryOrder = []string{CategoryAnalysis, CategoryCompletion, CategoryRefactoring, CategoryMetrics, CategoryBridge}

type catalogEntry struct {
	tool     mcp.Tool
	category string
	// engine is set for commands that need a running engine.
	engine bool
}

type catalog struct {
	entries []catalogEntry
	byName  map[string]int
}

// wholeNumber restricts a number property to integers.
func wholeNumber() mcp.PropertyOption {
	return func(schema map[string]any) {
		schema["multipleOf"] = 1
	}
}

func oneBased(desc string) []mcp.PropertyOption {
	return []mcp.PropertyOption{mcp.Required(), mcp.Description(desc), mcp.Min(1), wholeNumber()}
}

func positionOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString(_paramFile, mcp.Required(), mcp.Description("Source file, absolute or relative to the project root")),
		mcp.WithNumber(_paramLine, oneBased("1-based line")...),
		mcp.WithNumber(_paramColumn, oneBased("1-based column")...),
	}
}

func timeoutOption() mcp.ToolOption {
	return mcp.WithNumber(_paramTimeoutMS, mcp.Description("Overrides the command timeout, in milliseconds"), mcp.Min(1), wholeNumber())
}

func engineTool(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	all := append([]mcp.ToolOption{
		mcp.WithDescription(description),
		mcp.WithReadOnlyHintAnnotation(true),
		timeoutOption(),
	}, opts...)
	return mcp.NewTool(name, all...)
}

func staticTool(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	all := append([]mcp.ToolOption{
		mcp.WithDescription(description),
		mcp.WithReadOnlyHintAnnotation(true),
	}, opts...)
	return mcp.NewTool(name, all...)
}

func newCatalog() *catalog {
	c := &catalog{byName: make(map[string]int)}

	c.add(CategoryAnalysis, true, engineTool(ToolAnalyzeSymbol, "Search the workspace for a symbol by name",
		mcp.WithString(_paramName, mcp.Required(), mcp.Description("Symbol name or prefix"))))
	c.add(CategoryAnalysis, true, engineTool(ToolFindReferences, "Find all references to the symbol at a position",
		append(positionOptions(), mcp.WithBoolean(_paramIncludeDeclaration, mcp.Description("Include the declaration, default true")))...))
	c.add(CategoryAnalysis, true, engineTool(ToolGetHover, "Show type and documentation for the symbol at a position",
		positionOptions()...))
	c.add(CategoryAnalysis, true, engineTool(ToolFindImplementations, "Find implementations of the trait or type at a position",
		positionOptions()...))
	c.add(CategoryAnalysis, true, engineTool(ToolGetDiagnostics, "List the latest compiler diagnostics",
		mcp.WithString(_paramFile, mcp.Description("Limit to one file"))))

	c.add(CategoryCompletion, true, engineTool(ToolComplete, "Completion items at a position",
		positionOptions()...))
	c.add(CategoryCompletion, true, engineTool(ToolSignatureHelp, "Signature of the call surrounding a position",
		positionOptions()...))
	c.add(CategoryCompletion, true, engineTool(ToolGetCompletions, "Workspace symbols matching the identifier a code fragment ends with",
		mcp.WithString(_paramContext, mcp.Required(), mcp.Description("Code fragment, such as `let v = Vec::`"))))
	c.add(CategoryCompletion, true, engineTool(ToolResolveImport, "Suggest use statements for a symbol",
		mcp.WithString(_paramSymbol, mcp.Required(), mcp.Description("Exact symbol name"))))
	c.add(CategoryCompletion, false, staticTool(ToolExpandSnippet, "Expand a named code snippet",
		mcp.WithString(_paramName, mcp.Required(), mcp.Description("Snippet name"), mcp.Enum(snippetNames()...))))

	c.add(CategoryRefactoring, true, engineTool(ToolRename, "Rename the symbol at a position and preview the edits",
		append(positionOptions(), mcp.WithString(_paramNewName, mcp.Required(), mcp.Description("New identifier")))...))
	c.add(CategoryRefactoring, true, engineTool(ToolExtractFunction, "Extract the selected range into a function",
		mcp.WithString(_paramFile, mcp.Required(), mcp.Description("Source file, absolute or relative to the project root")),
		mcp.WithNumber(_paramStartLine, oneBased("1-based start line")...),
		mcp.WithNumber(_paramStartColumn, oneBased("1-based start column")...),
		mcp.WithNumber(_paramEndLine, oneBased("1-based end line")...),
		mcp.WithNumber(_paramEndColumn, oneBased("1-based end column")...)))
	c.add(CategoryRefactoring, true, engineTool(ToolInline, "Inline the variable or function at a position",
		positionOptions()...))
	c.add(CategoryRefactoring, true, engineTool(ToolOrganizeImports, "Sort and merge the imports of a file",
		mcp.WithString(_paramFile, mcp.Required(), mcp.Description("Source file, absolute or relative to the project root"))))

	c.add(CategoryMetrics, false, staticTool(ToolProjectStructure, "Describe the crate layout under src/"))
	c.add(CategoryMetrics, false, staticTool(ToolAnalyzeDependencies, "List the dependencies declared in Cargo.toml"))
	c.add(CategoryMetrics, false, staticTool(ToolCodeMetrics, "Count lines and items in Rust sources",
		mcp.WithString(_paramModule, mcp.Description("Directory or file relative to the project root, default src"))))
	c.add(CategoryMetrics, true, engineTool(ToolFindDeadCode, "List unused items reported by the compiler"))
	c.add(CategoryMetrics, true, engineTool(ToolSuggestImprovements, "Collect warnings and quick fixes",
		mcp.WithString(_paramFile, mcp.Description("Limit to one file"))))

	c.add(CategoryBridge, false, staticTool(ToolCapabilities, "Describe the bridge and its commands"))
	c.add(CategoryBridge, false, staticTool(ToolsList, "List the command catalog as tool definitions"))
	return c
}

func (c *catalog) add(category string, engine bool, tool mcp.Tool) {
	c.byName[tool.Name] = len(c.entries)
	c.entries = append(c.entries, catalogEntry{tool: tool, category: category, engine: engine})
}

func (c *catalog) lookup(name string) (catalogEntry, bool) {
	i, ok := c.byName[name]
	if !ok {
		return catalogEntry{}, false
	}
	return c.entries[i], true
}

func (c *catalog) tools() []mcp.Tool {
	tools := make([]mcp.Tool, 0, len(c.entries))
	for _, e := range c.entries {
		tools = append(tools, e.tool)
	}
	return tools
}

// byCategory returns command names grouped by category, in catalog order.
func (c *catalog) byCategory() map[string][]string {
	out := make(map[string][]string, len(_categoryOrder))
	for _, e := range c.entries {
		out[e.category] = append(out[e.category], e.tool.Name)
	}
	return out
}
