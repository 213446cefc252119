package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func runWriteStatus(t *testing.T, snap auth.Snapshot, asJSON bool) string {
	t.Helper()
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	require.NoError(t, writeStatus(cmd, snap, asJSON))
	return out.String()
}

func TestWriteStatusSignedIn(t *testing.T) {
	sess := &sessions.Session{
		User:      sessions.User{ID: "user-1", Email: "user@example.com"},
		ExpiresAt: time.Now().Add(time.Hour),
	}
	snap := auth.Snapshot{State: auth.StateReady, Session: sess, User: sess.UserOrNil()}

	text := runWriteStatus(t, snap, false)
	require.Contains(t, text, "Signed in as user@example.com (user-1)")
	require.Contains(t, text, "Session expires")

	var decoded statusOutput
	require.NoError(t, json.Unmarshal([]byte(runWriteStatus(t, snap, true)), &decoded))
	require.True(t, decoded.SignedIn)
	require.Equal(t, "user-1", decoded.UserID)
	require.NotNil(t, decoded.ExpiresAt)
}

func TestWriteStatusSignedOutWithError(t *testing.T) {
	snap := auth.Snapshot{State: auth.StateReady, RefreshError: errors.New("provider down")}

	text := runWriteStatus(t, snap, false)
	require.Contains(t, text, "Not signed in")
	require.Contains(t, text, "provider down")
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "status", "logout"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, cmd.Name())
	}
}
