package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkparq/updater-go/common/manifest"
)

func TestUpdateModelEntries(t *testing.T) {
	model := UpdateModel{AppName: "demo", Version: "1.0", Files: []FileModel{
		{Path: "a.txt", CRC32: 1},
		{Path: "lib/b.dll", CRC32: 2, Size: 10, Option: "OVERWRITE"},
	}}
	m, err := model.Manifest()
	require.NoError(t, err)
	assert.Equal(t, manifest.Manifest{AppName: "demo", Version: "1.0", Entries: []manifest.Entry{
		{Path: "a.txt", Checksum: 1},
		{Path: "lib/b.dll", Checksum: 2, Size: 10, Action: manifest.ActionOverwrite},
	}}, m)
	assert.Equal(t, model.Files[1].Path, NewUpdateModel(m).Files[1].Path)
	assert.Equal(t, "b.dll", NewUpdateModel(m).Files[1].Name)
}

func TestUpdateModelEntriesRejectsInvalidFiles(t *testing.T) {
	for name, files := range map[string][]FileModel{
		"traversal": {{Path: "../../etc/passwd"}},
		"blank":     {{Path: ""}},
		"duplicate": {{Path: "a"}, {Path: "a"}},
		"action":    {{Path: "a", Option: "RENAME"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := UpdateModel{AppName: "demo", Version: "1", Files: files}.Entries()
			assert.ErrorIs(t, err, manifest.ErrMalformed)
		})
	}
}

func TestResultJSON(t *testing.T) {
	data, err := json.Marshal(Result[UpdateModel]{Code: 200, Msg: "ok", Data: UpdateModel{AppName: "demo", Version: "1", Files: []FileModel{{Path: "a", CRC32: 7, Option: "ADD"}}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":200,"msg":"ok","data":{"appName":"demo","version":"1","files":[{"path":"a","crc32":7,"option":"ADD"}]}}`, string(data))

	var decoded Result[UpdateModel]
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Success())
	assert.False(t, Result[any]{Code: 404}.Success())
}
