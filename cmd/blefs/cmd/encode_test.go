package cmd

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/aweris/blefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeFile(name string) ([]byte, error) {
	if name == "frame.bin" {
		return []byte("a"), nil
	}
	return nil, errors.New("no such file")
}

func TestBuildRequest(t *testing.T) {
	tests := []struct {
		op   string
		args []string
		want blefs.Request
	}{
		{"echo", []string{"hi"}, blefs.EchoRequest{Data: []byte("hi")}},
		{"upload", []string{"frame.bin"}, blefs.NewUploadRequest([]byte("a"))},
		{"delete", []string{"frame.bin"}, blefs.DeleteRequest{Hash: blefs.HashOf([]byte("a")), Size: 1}},
		{"delete", []string{"0cc175b9c0f1b6a831c399e269772661", "1"}, blefs.DeleteRequest{Hash: blefs.HashOf([]byte("a")), Size: 1}},
		{"list", nil, blefs.ListRequest{}},
		{"download", []string{"0cc175b9c0f1b6a831c399e269772661"}, blefs.DownloadRequest{Name: "0cc175b9c0f1b6a831c399e269772661"}},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			got, err := buildRequest(tt.op, tt.args, fakeFile)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildRequest_Rejects(t *testing.T) {
	for name, tc := range map[string]struct {
		op   string
		args []string
	}{
		"unknown op":    {"rename", []string{"a"}},
		"echo no arg":   {"echo", nil},
		"list with arg": {"list", []string{"x"}},
		"missing file":  {"upload", []string{"nope"}},
		"bad hash":      {"delete", []string{"zz", "1"}},
		"bad size":      {"delete", []string{"0cc175b9c0f1b6a831c399e269772661", "-1"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := buildRequest(tc.op, tc.args, fakeFile)
			assert.Error(t, err)
		})
	}
}

func TestEncodeDecodeCommands(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"encode", "echo", "ping"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "0070696e67\n", out.String())

	out.Reset()
	rootCmd.SetArgs([]string{"decode", hex.EncodeToString([]byte{3})})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "list\n", out.String())
}
