package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/pkg/skills"
	"github.com/stewardhq/steward/pkg/types/host"
	"github.com/stewardhq/steward/pkg/venv"
)

// writeHandler drops an executable shell handler into a skill directory.
func writeHandler(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return name
}

func testSkill(t *testing.T, perms []string, handlers map[string]string) *skills.Skill {
	t.Helper()
	return &skills.Skill{
		Manifest: skills.Manifest{
			Name:        "shell-skill",
			Isolated:    true,
			Permissions: skills.NewPermissionSet(perms),
			Handlers:    handlers,
			Directory:   t.TempDir(),
		},
		Enabled: true,
	}
}

func TestRunner_InvokeReturnsHandlerResult(t *testing.T) {
	skill := testSkill(t, []string{"notify"}, nil)
	handler := writeHandler(t, skill.Directory, "on_event.sh", `
printf '%s\n' '{"id":1,"method":"notify","params":{"title":"ping"}}'
read -r resp
printf '%s\n' '{"id":2,"method":"return","params":{"result":{"handled":true}}}'
read -r resp
`)
	skill.Handlers = map[string]string{skills.HandlerEvent: handler}

	notifier := &recordingNotifier{}
	runner := NewRunner(&host.Services{Notifier: notifier}, venv.NewProvisioner(t.TempDir()), 10)

	result, err := runner.Invoke(context.Background(), skill, skills.HandlerEvent, skills.Invocation{Handler: skills.HandlerEvent, Event: "mail.received"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"handled":true}`, string(result))
	assert.Equal(t, []string{"ping"}, notifier.sent)
}

func TestRunner_CleanExitWithoutReturn(t *testing.T) {
	skill := testSkill(t, nil, nil)
	handler := writeHandler(t, skill.Directory, "schedule.sh", `
printf '%s\n' '{"id":1,"method":"log","params":{"level":"info","message":"nothing to do"}}'
read -r resp
`)
	skill.Handlers = map[string]string{skills.HandlerSchedule: handler}

	runner := NewRunner(&host.Services{}, venv.NewProvisioner(t.TempDir()), 10)

	result, err := runner.Invoke(context.Background(), skill, skills.HandlerSchedule, skills.Invocation{Handler: skills.HandlerSchedule})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestRunner_NonZeroExitIsChildProcessError(t *testing.T) {
	skill := testSkill(t, nil, nil)
	handler := writeHandler(t, skill.Directory, "on_ask.sh", `
echo "something went wrong" >&2
exit 3
`)
	skill.Handlers = map[string]string{skills.HandlerAsk: handler}

	runner := NewRunner(&host.Services{}, venv.NewProvisioner(t.TempDir()), 10)

	_, err := runner.Invoke(context.Background(), skill, skills.HandlerAsk, skills.Invocation{Handler: skills.HandlerAsk, Text: "hi"})
	require.Error(t, err)

	var childErr *ChildProcessError
	require.ErrorAs(t, err, &childErr)
	assert.Equal(t, "shell-skill", childErr.Skill)
	assert.Contains(t, childErr.Stderr, "something went wrong")
}

func TestRunner_MissingHandler(t *testing.T) {
	skill := testSkill(t, nil, map[string]string{})
	runner := NewRunner(&host.Services{}, venv.NewProvisioner(t.TempDir()), 10)

	_, err := runner.Invoke(context.Background(), skill, skills.HandlerAsk, skills.Invocation{Handler: skills.HandlerAsk})
	assert.ErrorContains(t, err, "no on_ask handler")
}

func TestRunner_PayloadInEnvironment(t *testing.T) {
	skill := testSkill(t, nil, nil)
	handler := writeHandler(t, skill.Directory, "on_ask.sh", `
printf '%s\n' "{\"id\":1,\"method\":\"return\",\"params\":{\"result\":{\"skill\":\"$STEWARD_SKILL\",\"handler\":\"$STEWARD_HANDLER\"}}}"
read -r resp
`)
	skill.Handlers = map[string]string{skills.HandlerAsk: handler}

	runner := NewRunner(&host.Services{}, venv.NewProvisioner(t.TempDir()), 10)

	result, err := runner.Invoke(context.Background(), skill, skills.HandlerAsk, skills.Invocation{Handler: skills.HandlerAsk, Text: "what about my invoice"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"skill":"shell-skill","handler":"on_ask"}`, string(result))
}
