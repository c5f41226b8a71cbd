package metainfo

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/bencode"
)

// File is one payload file described by a metadata file.
type File struct {
	Path string
	Size int64
}

// Info is the parsed view of a torrent metadata file: enough to name the
// content, size it, and locate it on disk.
type Info struct {
	Name      string
	Hash      string
	TotalSize int64
	Files     []File
}

type rawMetainfo struct {
	Info bencode.RawMessage `bencode:"info"`
}

type rawInfo struct {
	Name   string `bencode:"name"`
	Length int64  `bencode:"length"`
	Files  []struct {
		Length int64    `bencode:"length"`
		Path   []string `bencode:"path"`
	} `bencode:"files"`
}

// Parse decodes a bencoded metadata file. The hash is the SHA-1 of the raw
// info dictionary, matching what download clients report as the content id.
func Parse(data []byte) (*Info, error) {
	var raw rawMetainfo
	if err := bencode.DecodeBytes(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid bencode structure: %w", err)
	}

	if len(raw.Info) == 0 {
		return nil, fmt.Errorf("metadata missing required info dictionary")
	}

	var info rawInfo
	if err := bencode.DecodeBytes(raw.Info, &info); err != nil {
		return nil, fmt.Errorf("invalid info dictionary: %w", err)
	}

	if info.Name == "" {
		return nil, fmt.Errorf("metadata missing content name")
	}

	hash := sha1.Sum(raw.Info)

	parsed := &Info{
		Name: info.Name,
		Hash: hex.EncodeToString(hash[:]),
	}

	if len(info.Files) == 0 {
		// Single-file torrent: the name is the file.
		parsed.TotalSize = info.Length
		parsed.Files = []File{{Path: info.Name, Size: info.Length}}

		return parsed, nil
	}

	for _, f := range info.Files {
		parsed.TotalSize += f.Length
		parsed.Files = append(parsed.Files, File{
			Path: filepath.Join(append([]string{info.Name}, f.Path...)...),
			Size: f.Length,
		})
	}

	return parsed, nil
}

// Load reads and parses a metadata file from disk.
func Load(path string) (*Info, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	info, err := Parse(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	return info, data, nil
}

// TopLevelPaths returns the deduplicated content roots under savePath: the
// single file for single-file torrents, otherwise the first path component of
// each payload file.
func (i *Info) TopLevelPaths(savePath string) []string {
	seen := make(map[string]bool)

	var roots []string

	for _, f := range i.Files {
		root := f.Path
		for {
			dir := filepath.Dir(root)
			if dir == "." || dir == string(filepath.Separator) {
				break
			}

			root = dir
		}

		if !seen[root] {
			seen[root] = true

			roots = append(roots, filepath.Join(savePath, root))
		}
	}

	return roots
}
