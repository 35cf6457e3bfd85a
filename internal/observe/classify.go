package observe

// categoryRules is evaluated in order; the first matching category wins.
var categoryRules = []struct {
	category Category
	keywords []string
}{
	{CategoryCode, []string{"code", "terminal", "function", "script", "editor", "compile", "console", "repository"}},
	{CategoryDiagram, []string{"diagram", "flowchart", "chart", "graph", "whiteboard", "canvas"}},
	{CategoryPresentation, []string{"slide", "presentation", "deck", "powerpoint", "keynote"}},
	{CategoryDocument, []string{"document", "spreadsheet", "pdf", "report", "page", "sheet", "form"}},
	{CategoryUI, []string{"button", "menu", "dialog", "field", "dropdown", "tab", "checkbox", "settings", "window", "link"}},
}

// Classify assigns a category by keyword match, falling back to other.
func Classify(text string) Category {
	for _, rule := range categoryRules {
		if matchesAny(text, rule.keywords) {
			return rule.category
		}
	}
	return CategoryOther
}
