package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpgw/gateway/internal/toolerrors"
)

func requireKind(t *testing.T, err error, kind toolerrors.Kind) {
	t.Helper()
	require.Error(t, err)
	var te *toolerrors.Error
	require.ErrorAs(t, err, &te)
	require.Equal(t, kind, te.Kind)
}

func TestValidatePathAcceptsFileInsideWorkspace(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hi"), 0o644))

	resolved, err := ValidatePath(root, "notes.txt")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "notes.txt"), resolved)
}

func TestValidatePathRejectsDotDotTraversal(t *testing.T) {
	root := t.TempDir()
	_, err := ValidatePath(root, "../etc/passwd")
	requireKind(t, err, toolerrors.KindPathTraversalAttack)
}

func TestValidatePathRejectsNulByte(t *testing.T) {
	root := t.TempDir()
	_, err := ValidatePath(root, "notes.txt\x00.png")
	requireKind(t, err, toolerrors.KindPathTraversalAttack)
}

func TestValidatePathRejectsURLEncodedTraversal(t *testing.T) {
	root := t.TempDir()
	_, err := ValidatePath(root, "%2e%2e/secret")
	requireKind(t, err, toolerrors.KindPathTraversalAttack)
}

func TestValidatePathRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("shh"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "link.txt")))

	_, err := ValidatePath(root, "link.txt")
	requireKind(t, err, toolerrors.KindPathOutsideWorkspace)
}

func TestValidatePathRejectsEmptyWorkspaceRoot(t *testing.T) {
	_, err := ValidatePath("", "file.txt")
	requireKind(t, err, toolerrors.KindWorkspaceInvalid)
}
