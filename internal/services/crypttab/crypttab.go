// Package crypttab reads /etc/crypttab on the machine that holds the
// backup disk and checks the state of encrypted filesystems.
package crypttab

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"strings"
)

// MapperDir is where unlocked devices appear.
const MapperDir = "/dev/mapper"

// Entry is one line of a crypttab file.
type Entry struct {
	Name    string
	Device  string // path or UUID=/LABEL=/PARTUUID=/PARTLABEL= reference
	KeyFile string
	Options []string
}

var deviceTags = map[string]string{
	"UUID":      "/dev/disk/by-uuid",
	"LABEL":     "/dev/disk/by-label",
	"PARTUUID":  "/dev/disk/by-partuuid",
	"PARTLABEL": "/dev/disk/by-partlabel",
}

// SourcePath returns the block device path of the encrypted filesystem.
func (e Entry) SourcePath() string {
	if tag, value, ok := strings.Cut(e.Device, "="); ok {
		if dir, known := deviceTags[strings.ToUpper(tag)]; known {
			return path.Join(dir, value)
		}
	}
	return e.Device
}

// MapperPath returns the path the unlocked device is mapped to.
func (e Entry) MapperPath() string {
	return path.Join(MapperDir, e.Name)
}

// Parse reads crypttab entries, skipping comments and blank lines.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("crypttab line %d: expected at least 2 fields, got %d", lineNo, len(fields))
		}
		entry := Entry{Name: fields[0], Device: fields[1]}
		if len(fields) > 2 && fields[2] != "none" && fields[2] != "-" {
			entry.KeyFile = fields[2]
		}
		if len(fields) > 3 {
			entry.Options = strings.Split(fields[3], ",")
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read crypttab: %w", err)
	}
	return entries, nil
}
