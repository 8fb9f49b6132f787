package bundle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cexll/ctxbundle/internal/git"
)

const maxActionItems = 5

// NextActions derives suggested follow-ups from the snapshot. The order is
// fixed: TODOs, uncommitted work, untested source changes, credentials,
// missing files, untested endpoints.
func NextActions(snap *Snapshot) []string {
	var actions []string

	if n := snap.Stats.TodoTotal(); n > 0 {
		actions = append(actions, fmt.Sprintf("Resolve or triage %d outstanding %s (see todos.md).", n, plural(n, "TODO marker", "TODO markers")))
	}

	if n := len(snap.Git.Status); n > 0 {
		actions = append(actions, fmt.Sprintf("Commit or stash %d uncommitted %s.", n, plural(n, "change", "changes")))
	}

	if src := untestedSourceChanges(snap.Git.Changes); len(src) > 0 {
		actions = append(actions, "Add tests for source changes that came without test changes: "+capList(src)+".")
	}

	if notSet := snap.Env.NotSet(); len(notSet) > 0 {
		actions = append(actions, "Set missing credentials: "+capList(notSet)+".")
	}

	if missing := snap.Env.MissingFiles(); len(missing) > 0 {
		actions = append(actions, "Add missing files: "+capList(missing)+".")
	}

	if len(snap.UntestedEndpoints) > 0 {
		eps := make([]string, 0, len(snap.UntestedEndpoints))
		for _, ep := range snap.UntestedEndpoints {
			eps = append(eps, ep.Method+" "+ep.Path)
		}
		actions = append(actions, "Cover endpoints no test mentions: "+capList(eps)+".")
	}

	return actions
}

// untestedSourceChanges lists changed source files when the change set holds
// no test files at all.
func untestedSourceChanges(cs git.ChangeSet) []string {
	var src []string
	for _, paths := range cs.ByExtension {
		for _, p := range paths {
			if IsTestFile(p) {
				return nil
			}
			if isSourcePath(p) {
				src = append(src, p)
			}
		}
	}
	if len(src) == 0 {
		return nil
	}
	sort.Strings(src)
	return src
}

func isSourcePath(p string) bool {
	for _, ext := range []string{".py", ".go", ".js", ".ts", ".tsx", ".jsx"} {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

// capList joins up to maxActionItems entries and summarizes the rest.
func capList(items []string) string {
	if len(items) <= maxActionItems {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(items[:maxActionItems], ", "), len(items)-maxActionItems)
}
