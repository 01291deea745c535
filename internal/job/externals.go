package job

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/ini.v1"
)

// ExternalsFile is the manage_externals description at the app root.
const ExternalsFile = "Externals.cfg"

func init() {
	// Write "key = value" without padding keys to a common width.
	ini.PrettyFormat = false
	ini.PrettyEqual = true
}

// externalsLoadOptions matches how manage_externals reads the file with
// Python's configparser: indented continuation lines, ':' or '='
// delimiters, and no inline comments.
var externalsLoadOptions = ini.LoadOptions{
	AllowPythonMultilineValues: true,
	IgnoreInlineComment:        true,
	KeyValueDelimiters:         "=:",
	KeyValueDelimiterOnWrite:   "=",
}

// ExternalPin points one Externals.cfg section at a specific commit.
type ExternalPin struct {
	Section string
	Hash    string
	RepoURL string
}

// PinExternal rewrites the section named pin.Section so that it checks out
// pin.Hash from pin.RepoURL. A section may name only one of hash, branch,
// or tag, so branch and tag are dropped. Comments and the order of other
// keys are kept. It reports false, nil when the file or the section does
// not exist.
func PinExternal(path string, pin ExternalPin) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read externals: %w", err)
	}

	out, found, err := pinExternal(data, pin)
	if err != nil || !found {
		return false, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("stat externals: %w", err)
	}
	if err := os.WriteFile(path, out, info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("write externals: %w", err)
	}
	return true, nil
}

func pinExternal(data []byte, pin ExternalPin) ([]byte, bool, error) {
	f, err := ini.LoadSources(externalsLoadOptions, data)
	if err != nil {
		return nil, false, fmt.Errorf("parse externals: %w", err)
	}

	sec, err := f.GetSection(pin.Section)
	if err != nil {
		return nil, false, nil
	}

	sec.DeleteKey("branch")
	sec.DeleteKey("tag")
	sec.Key("hash").SetValue(pin.Hash)
	sec.Key("repo_url").SetValue(pin.RepoURL)

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, false, fmt.Errorf("render externals: %w", err)
	}
	return buf.Bytes(), true, nil
}
