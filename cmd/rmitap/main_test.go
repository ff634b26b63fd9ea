package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rtshare "github.com/sammck-go/rmitap/share"
)

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	var out bytes.Buffer
	err := run(append([]string{"-log-level", "error"}, args...), strings.NewReader(stdin), &out)
	return out.String(), err
}

func TestFixRefsCommand(t *testing.T) {
	out, err := runCmd(t, "71 007e 0003 41", "fixrefs", "-c", "2")
	require.NoError(t, err)
	assert.Equal(t, "71007e000541\n", out)
}

func TestDecodeCommand(t *testing.T) {
	// ReplyData holding a single serializable object of class "Test" with no fields
	in := "51 aced 0005 73 72 0004 54657374 0000000000000001 02 0000 78 70"
	out, err := runCmd(t, in, "decode", "-name", "test")
	require.NoError(t, err)
	assert.Equal(t, "Test\n", out)

	_, err = runCmd(t, "50", "decode")
	assert.ErrorIs(t, err, rtshare.ErrInvalidReplyData)
}

func TestComposeCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
templates:
  - name: echo
    header: "aced 0005"
    footer: "71 007e 0000"
`), 0o600))

	out, err := runCmd(t, "", "compose", "-templates", path, "-name", "echo", "-c", "1", "id")
	require.NoError(t, err)
	assert.Equal(t, "aced0005"+"00026964"+"71007e0001\n", out)

	_, err = runCmd(t, "", "compose", "-templates", path, "-name", "missing", "id")
	assert.Error(t, err)
}

func TestUnknownCommand(t *testing.T) {
	_, err := runCmd(t, "", "bogus")
	assert.Error(t, err)
}
