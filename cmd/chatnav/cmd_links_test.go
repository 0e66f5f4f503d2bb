package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("CHATNAV_APP_URL", "http://localhost:8000/")
	linkGroup, linkAvatar, linkChat, linkMessage = "", "", "", -1

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestEncodeCommand(t *testing.T) {
	out, err := execute(t, "encode", "--avatar", "alice.png", "--chat", "alice - chat1.jsonl", "--msg", "3")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/?nav=char&avatar=alice&cid=alice%20-%20chat1&msg=3\n", out)
}

func TestDecodeCommandLegacyFragment(t *testing.T) {
	out, err := execute(t, "decode", "http://localhost:8000/#/group/g1/session%201")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "fragment", decoded["source"])
	assert.Equal(t, "nav=group&gid=g1&cid=session%201", decoded["query"])
}

func TestDecodeCommandRejectsPlainURL(t *testing.T) {
	_, err := execute(t, "decode", "http://localhost:8000/")
	assert.Error(t, err)
}

func TestShareCommandRoundTrip(t *testing.T) {
	s := miniredis.RunT(t)
	t.Setenv("REDIS_URL", "redis://"+s.Addr())

	out, err := execute(t, "share", "--group", "g1", "--chat", "session1")
	require.NoError(t, err)
	link := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(link, "http://localhost:8000/?chatlink="), link)

	out, err = execute(t, "decode", link)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "shortlink", decoded["source"])
	assert.Equal(t, "nav=group&gid=g1&cid=session1", decoded["query"])
}
