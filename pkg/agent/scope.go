package agent

import (
	"strings"

	"github.com/quantpilot/quantpilot/pkg/agent/types"
)

// Tool allowlists are computed heuristically from step descriptions: a plan
// that never mentions writing gets no write tools, a step that only reads
// gets narrowed to the read-only set. The tracker separately flags calls
// that slip past the heuristic.

var readOnlyToolNames = []string{
	"read_file",
	"list_directory",
	"grep",
	"semantic_search",
	"get_file_outline",
}

var (
	writeKeywords = []string{
		"创建", "写入", "生成", "修改", "新建",
		"create", "write", "generate", "add", "update", "implement", "fix", "edit", "refactor",
	}
	deleteKeywords = []string{
		"删除", "移除",
		"delete", "remove",
	}
	execKeywords = []string{
		"执行", "运行", "测试",
		"run", "execute", "test",
	}
)

func containsAny(text string, keywords []string) bool {
	lowered := strings.ToLower(text)
	for _, keyword := range keywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

// planToolAllowlist scans every step description and grants write, delete
// and shell tools only when some step's wording calls for them. Read-only
// tools are always allowed.
func planToolAllowlist(plan *types.Plan) map[string]bool {
	allow := make(map[string]bool)
	for _, name := range readOnlyToolNames {
		allow[name] = true
	}

	for _, step := range plan.Steps {
		if containsAny(step.Description, writeKeywords) {
			allow["write_file"] = true
			allow["patch_file"] = true
		}
		if containsAny(step.Description, deleteKeywords) {
			allow["delete_file"] = true
		}
		if containsAny(step.Description, execKeywords) {
			allow["shell_exec"] = true
		}
	}

	return allow
}

// stepToolAllowlist narrows the plan-level allowlist for one step: a step
// whose description names no write, delete or exec work gets read-only
// tools plus whatever it explicitly declared.
func stepToolAllowlist(step *types.PlanStep, planAllow map[string]bool) map[string]bool {
	needsMutation := containsAny(step.Description, writeKeywords) ||
		containsAny(step.Description, deleteKeywords) ||
		containsAny(step.Description, execKeywords)

	allow := make(map[string]bool)

	if needsMutation {
		for name := range planAllow {
			allow[name] = true
		}
	} else {
		for _, name := range readOnlyToolNames {
			allow[name] = true
		}
	}

	for _, name := range step.ToolsNeeded {
		allow[name] = true
	}

	return allow
}

// filterDefinitions keeps only the tool schemas present in the allowlist.
func filterDefinitions(defs []types.Tool, allow map[string]bool) []types.Tool {
	filtered := make([]types.Tool, 0, len(defs))
	for _, def := range defs {
		if allow[def.Name] {
			filtered = append(filtered, def)
		}
	}
	return filtered
}
