package metainfo_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/DiskTrackTed/transferarr-sub001/internal/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// {"info": {"length": 1024, "name": "ubuntu.iso"}}
var singleFileTorrent = []byte("d4:infod6:lengthi1024e4:name10:ubuntu.isoee")

// {"info": {"files": [{"length": 100, "path": ["sub", "a.mkv"]},
// {"length": 200, "path": ["b.nfo"]}], "name": "show"}}
var multiFileTorrent = []byte("d4:infod5:filesld6:lengthi100e4:pathl3:sub5:a.mkveed6:lengthi200e4:pathl5:b.nfoeee4:name4:showee")

func TestParse_SingleFile(t *testing.T) {
	info, err := metainfo.Parse(singleFileTorrent)
	require.NoError(t, err)

	assert.Equal(t, "ubuntu.iso", info.Name)
	assert.Equal(t, int64(1024), info.TotalSize)
	assert.Len(t, info.Hash, 40)

	require.Len(t, info.Files, 1)
	assert.Equal(t, "ubuntu.iso", info.Files[0].Path)
	assert.Equal(t, int64(1024), info.Files[0].Size)
}

func TestParse_MultiFile(t *testing.T) {
	info, err := metainfo.Parse(multiFileTorrent)
	require.NoError(t, err)

	assert.Equal(t, "show", info.Name)
	assert.Equal(t, int64(300), info.TotalSize)

	require.Len(t, info.Files, 2)
	assert.Equal(t, filepath.Join("show", "sub", "a.mkv"), info.Files[0].Path)
	assert.Equal(t, int64(100), info.Files[0].Size)
	assert.Equal(t, filepath.Join("show", "b.nfo"), info.Files[1].Path)
}

func TestParse_HashDiffersPerInfoDict(t *testing.T) {
	single, err := metainfo.Parse(singleFileTorrent)
	require.NoError(t, err)

	multi, err := metainfo.Parse(multiFileTorrent)
	require.NoError(t, err)

	assert.NotEqual(t, single.Hash, multi.Hash)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"not bencode", []byte("not bencode at all")},
		{"truncated", []byte("d4:info")},
		{"missing info dict", []byte("d8:announce3:urle")},
		{"missing name", []byte("d4:infod6:lengthi1024eee")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := metainfo.Parse(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abc.torrent")
	require.NoError(t, os.WriteFile(path, singleFileTorrent, 0o644))

	info, raw, err := metainfo.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ubuntu.iso", info.Name)
	assert.Equal(t, singleFileTorrent, raw)
}

func TestLoad_MissingFile(t *testing.T) {
	_, _, err := metainfo.Load(filepath.Join(t.TempDir(), "absent.torrent"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestTopLevelPaths(t *testing.T) {
	single, err := metainfo.Parse(singleFileTorrent)
	require.NoError(t, err)

	assert.Equal(t,
		[]string{filepath.Join("/downloads", "ubuntu.iso")},
		single.TopLevelPaths("/downloads"),
	)

	// Every file in a multi-file torrent shares the content directory, so the
	// roots collapse to one path.
	multi, err := metainfo.Parse(multiFileTorrent)
	require.NoError(t, err)

	assert.Equal(t,
		[]string{filepath.Join("/downloads", "show")},
		multi.TopLevelPaths("/downloads"),
	)
}
