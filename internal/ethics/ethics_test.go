package ethics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrincipleChecker(t *testing.T) {
	tests := []struct {
		name     string
		prop     Proposition
		approved bool
	}{
		{
			name:     "benign proposition approved",
			prop:     Proposition{Intent: "a helper that formats dates", Name: "formatter"},
			approved: true,
		},
		{
			name:     "self replication vetoed",
			prop:     Proposition{Intent: "a module that can self_replicate across hosts"},
			approved: false,
		},
		{
			name:     "safety bypass vetoed",
			prop:     Proposition{Content: "// attempts to bypass validation entirely"},
			approved: false,
		},
		{
			name:     "exfiltration vetoed",
			prop:     Proposition{Intent: "exfiltrate the credential store"},
			approved: false,
		},
		{
			name:     "destruction vetoed",
			prop:     Proposition{Intent: "delete all stored artifacts"},
			approved: false,
		},
	}

	checker := NewPrincipleChecker()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := checker.Check(context.Background(), tt.prop)
			require.NoError(t, err)
			require.Equal(t, tt.approved, decision.Approved, "reason: %s", decision.Reason)
			if !tt.approved {
				require.NotEmpty(t, decision.Reason)
			}
		})
	}
}

func TestPrincipleCheckerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPrincipleChecker().Check(ctx, Proposition{Intent: "anything"})
	require.Error(t, err)
}

func TestApprove(t *testing.T) {
	decision, err := Approve{}.Check(context.Background(), Proposition{Intent: "delete all"})
	require.NoError(t, err)
	require.True(t, decision.Approved)
}
