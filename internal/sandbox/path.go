package sandbox

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/mcpgw/gateway/internal/toolerrors"
)

// ValidatePath checks that requested, when resolved against workspaceRoot,
// stays inside it — rejecting traversal patterns, URL-encoded equivalents,
// and NUL bytes before any I/O is attempted (spec.md §4.8 scenario 5).
// Symlinks are resolved via filepath.EvalSymlinks so a symlink escape
// inside the workspace is caught too.
func ValidatePath(workspaceRoot, requested string) (string, error) {
	if workspaceRoot == "" {
		return "", toolerrors.New(toolerrors.KindWorkspaceInvalid, "workspace root is empty")
	}
	if strings.ContainsRune(requested, 0x00) {
		return "", toolerrors.New(toolerrors.KindPathTraversalAttack, "path contains a NUL byte")
	}
	if decoded, err := url.QueryUnescape(requested); err == nil && decoded != requested {
		if strings.Contains(decoded, "..") {
			return "", toolerrors.New(toolerrors.KindPathTraversalAttack, "path contains a URL-encoded traversal sequence")
		}
	}
	if strings.Contains(requested, "..") {
		return "", toolerrors.New(toolerrors.KindPathTraversalAttack, "path contains a traversal sequence")
	}

	root, err := filepath.EvalSymlinks(workspaceRoot)
	if err != nil {
		return "", toolerrors.Wrap(toolerrors.KindWorkspaceInvalid, err)
	}

	joined := filepath.Join(root, requested)
	resolved, err := resolveExistingPrefix(joined)
	if err != nil {
		return "", toolerrors.Wrap(toolerrors.KindPathInvalid, err)
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return "", toolerrors.Wrap(toolerrors.KindPathInvalid, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", toolerrors.New(toolerrors.KindPathOutsideWorkspace, "path escapes the workspace root")
	}
	return resolved, nil
}

// resolveExistingPrefix resolves symlinks along candidate, walking up to
// the nearest existing ancestor for paths that don't exist yet (e.g. a
// file about to be created), so containment can still be checked without
// requiring the target to pre-exist.
func resolveExistingPrefix(candidate string) (string, error) {
	resolved, err := filepath.EvalSymlinks(candidate)
	if err == nil {
		return resolved, nil
	}
	parent := filepath.Dir(candidate)
	if parent == candidate {
		return candidate, nil
	}
	resolvedParent, err := resolveExistingPrefix(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(candidate)), nil
}
