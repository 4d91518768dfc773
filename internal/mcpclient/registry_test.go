package mcpclient

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryCallToolRoutesByServerAndDecodesResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register("files", CallerFunc(func(ctx context.Context, req CallRequest) (CallResponse, error) {
		require.Equal(t, "read", req.Tool)
		return CallResponse{Result: json.RawMessage(`{"size":42}`)}, nil
	}))

	res, err := reg.CallTool(context.Background(), "files", "read", map[string]any{"path": "a.txt"})
	require.NoError(t, err)
	m, ok := res.(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(42), m["size"])
}

func TestRegistryCallToolErrorsOnUnknownServer(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.CallTool(context.Background(), "missing", "read", nil)
	require.Error(t, err)
}

func TestRegistryCallToolFallsBackToRawStringForNonJSONResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register("files", CallerFunc(func(ctx context.Context, req CallRequest) (CallResponse, error) {
		return CallResponse{Result: json.RawMessage("not json")}, nil
	}))

	res, err := reg.CallTool(context.Background(), "files", "read", nil)
	require.NoError(t, err)
	require.Equal(t, "not json", res)
}

type listingCaller struct{ tools []ToolInfo }

func (l listingCaller) CallTool(ctx context.Context, req CallRequest) (CallResponse, error) {
	return CallResponse{}, nil
}

func (l listingCaller) ListTools(ctx context.Context) ([]ToolInfo, error) {
	return l.tools, nil
}

func TestRegistryListToolsDispatchesToToolLister(t *testing.T) {
	reg := NewRegistry()
	reg.Register("files", listingCaller{tools: []ToolInfo{{Name: "read"}, {Name: "write"}}})

	tools, err := reg.ListTools(context.Background(), "files")
	require.NoError(t, err)
	require.Len(t, tools, 2)
	require.Equal(t, "read", tools[0].Name)
}

func TestRegistryListToolsErrorsWhenCallerDoesNotSupportIt(t *testing.T) {
	reg := NewRegistry()
	reg.Register("files", CallerFunc(func(ctx context.Context, req CallRequest) (CallResponse, error) {
		return CallResponse{}, nil
	}))

	_, err := reg.ListTools(context.Background(), "files")
	require.Error(t, err)
}

func TestRegistryListToolsErrorsOnUnknownServer(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.ListTools(context.Background(), "missing")
	require.Error(t, err)
}
