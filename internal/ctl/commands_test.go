package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// MockController is a mock implementation of Controller.
type MockController struct {
	mock.Mock
}

func (m *MockController) Status(ctx context.Context) (*api.Status, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.Status), args.Error(1)
}

func (m *MockController) TriggerSync(ctx context.Context) (bool, string, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.String(1), args.Error(2)
}

func (m *MockController) SendText(ctx context.Context, to, body string) (string, string, error) {
	args := m.Called(ctx, to, body)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockController) ListChats(ctx context.Context) ([]api.Message, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]api.Message), args.Error(1)
}

func (m *MockController) WatchChat(ctx context.Context, chatID string, fn func([]api.Message) error) error {
	args := m.Called(ctx, chatID, fn)
	if snaps, ok := args.Get(0).([][]api.Message); ok {
		for _, s := range snaps {
			if err := fn(s); err != nil {
				return err
			}
		}
	}
	return args.Error(1)
}

func (m *MockController) SignIn(ctx context.Context, uid string) error {
	return m.Called(ctx, uid).Error(0)
}

func (m *MockController) SignOut(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockController) UpdatePeer(ctx context.Context, uid, name, username, avatar string) (int64, error) {
	args := m.Called(ctx, uid, name, username, avatar)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockController) RetryFailed(ctx context.Context, messageID string) error {
	return m.Called(ctx, messageID).Error(0)
}

func (m *MockController) Close() error {
	return m.Called().Error(0)
}

func newMockController(t *testing.T) *MockController {
	m := &MockController{}
	m.On("Close").Return(nil)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// run executes chatsyncctl with args against ctrl and returns stdout.
func run(t *testing.T, ctrl Controller, args ...string) (string, error) {
	t.Helper()
	t.Setenv(session.EnvHome, t.TempDir())

	var dialed string
	cmd := newRootCommand(func(name string) (Controller, error) {
		dialed = name
		return ctrl, nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--session", "test"}, args...))
	err := cmd.Execute()
	if dialed != "" {
		assert.Equal(t, "test", dialed)
	}
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	m := newMockController(t)
	m.On("Status", mock.Anything).Return(sampleStatus(), nil)

	out, err := run(t, m, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "State:       IDLE")
	assert.Contains(t, out, "Last cycle:  success at 2026-01-01 00:01:30")
}

func TestStatusCommandJSON(t *testing.T) {
	m := newMockController(t)
	m.On("Status", mock.Anything).Return(sampleStatus(), nil)

	out, err := run(t, m, "--format", "json", "status")
	require.NoError(t, err)

	var got api.Status
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, *sampleStatus(), got)
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, &MockController{}, "--format", "yaml", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestInvalidSessionName(t *testing.T) {
	cmd := newRootCommand(func(string) (Controller, error) {
		t.Fatal("dial must not be called")
		return nil, nil
	})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--session", "Bad Name", "status"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid session name")
}

func TestSyncCommand(t *testing.T) {
	m := newMockController(t)
	m.On("TriggerSync", mock.Anything).Return(true, "", nil)

	out, err := run(t, m, "sync")
	require.NoError(t, err)
	assert.Equal(t, "Sync requested.\n", out)
}

func TestSyncCommandRejected(t *testing.T) {
	m := newMockController(t)
	m.On("TriggerSync", mock.Anything).Return(false, "signed out", nil)

	_, err := run(t, m, "sync")
	require.Error(t, err)
	assert.Equal(t, "sync not started: signed out", err.Error())
	assert.Equal(t, ExitFailure, ExitCode(err))
}

func TestSendCommandJoinsText(t *testing.T) {
	m := newMockController(t)
	m.On("SendText", mock.Anything, "U2", "see you at noon").Return("m1", "U1_U2", nil)

	out, err := run(t, m, "send", "U2", "see", "you", "at", "noon")
	require.NoError(t, err)
	assert.Equal(t, "Queued m1 in chat U1_U2.\n", out)
}

func TestSendCommandNeedsText(t *testing.T) {
	_, err := run(t, &MockController{}, "send", "U2")
	assert.Error(t, err)
}

func TestChatsCommand(t *testing.T) {
	m := newMockController(t)
	m.On("ListChats", mock.Anything).Return(sampleChats(), nil)

	out, err := run(t, m, "chats")
	require.NoError(t, err)

	var want bytes.Buffer
	renderChats(&want, sampleChats())
	assert.Equal(t, want.String(), out)
}

func TestWatchByPeerResolvesChatID(t *testing.T) {
	m := newMockController(t)
	m.On("Status", mock.Anything).Return(&api.Status{User: "U2"}, nil)
	snaps := [][]api.Message{
		{{ID: "m1", From: "U1", To: "U2", Body: "hi", TimeSent: t0, Synced: true}},
	}
	m.On("WatchChat", mock.Anything, "U1_U2", mock.Anything).Return(snaps, nil)

	out, err := run(t, m, "watch", "U1")
	require.NoError(t, err)
	assert.Equal(t, "[2026-01-01 00:00:00] U1: hi (received)\n", out)
}

func TestWatchByChatID(t *testing.T) {
	m := newMockController(t)
	m.On("WatchChat", mock.Anything, "U1_U9", mock.Anything).Return(nil, nil)

	_, err := run(t, m, "watch", "--chat-id", "U1_U9")
	require.NoError(t, err)
	m.AssertNotCalled(t, "Status", mock.Anything)
}

func TestWatchNeedsTarget(t *testing.T) {
	_, err := run(t, &MockController{}, "watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "peer uid or --chat-id")
}

func TestLoginLogout(t *testing.T) {
	m := newMockController(t)
	m.On("SignIn", mock.Anything, "U1").Return(nil)
	m.On("SignOut", mock.Anything).Return(nil)

	out, err := run(t, m, "login", "U1")
	require.NoError(t, err)
	assert.Equal(t, "Signed in as U1.\n", out)

	out, err = run(t, m, "logout")
	require.NoError(t, err)
	assert.Equal(t, "Signed out.\n", out)
}

func TestPeerCommand(t *testing.T) {
	m := newMockController(t)
	m.On("UpdatePeer", mock.Anything, "U2", "Bea", "", "").Return(int64(3), nil)

	out, err := run(t, m, "peer", "U2", "--name", "Bea")
	require.NoError(t, err)
	assert.Equal(t, "Updated U2 on 3 message(s).\n", out)
}

func TestPeerCommandNeedsAField(t *testing.T) {
	_, err := run(t, &MockController{}, "peer", "U2")
	require.Error(t, err)
}

func TestRetryCommand(t *testing.T) {
	m := newMockController(t)
	m.On("RetryFailed", mock.Anything, "m1").Return(nil)

	out, err := run(t, m, "retry", "m1")
	require.NoError(t, err)
	assert.Equal(t, "Re-queued m1.\n", out)
}

func TestRetryCommandNotFound(t *testing.T) {
	m := newMockController(t)
	m.On("RetryFailed", mock.Anything, "nope").Return(grpcstatus.Error(codes.NotFound, "message not found"))

	_, err := run(t, m, "retry", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, ExitCode(err))
}

func TestDaemonNotRunning(t *testing.T) {
	m := newMockController(t)
	m.On("Status", mock.Anything).Return(nil, grpcstatus.Error(codes.Unavailable, "connection refused"))

	_, err := run(t, m, "status")
	require.Error(t, err)
	assert.Equal(t, ExitUnreachable, ExitCode(err))
	assert.Contains(t, err.Error(), `daemon for session "test" is not running`)
}

func TestDialFailure(t *testing.T) {
	t.Setenv(session.EnvHome, t.TempDir())
	cmd := newRootCommand(func(string) (Controller, error) {
		return nil, errors.New("bad socket")
	})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--session", "test", "status"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitUnreachable, ExitCode(err))
}
