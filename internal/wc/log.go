package wc

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
)

// Verb names one of the nine wire-level log commands. Values match the
// on-disk tag names exactly, since LogCommand round-trips through the
// file verbatim.
type Verb string

const (
	VerbModifyEntry      Verb = "modify-entry"
	VerbModifyWCProp     Verb = "modify-wcprop"
	VerbDeleteEntry      Verb = "delete-entry"
	VerbMerge            Verb = "merge"
	VerbCPAndTranslate   Verb = "cp-and-translate"
	VerbCPAndDetranslate Verb = "cp-and-detranslate"
	VerbMv               Verb = "mv"
	VerbReadonly         Verb = "readonly"
	VerbSetTimestamp     Verb = "set-timestamp"
)

// LogCommand is one tagged, attribute-bearing entry in a directory's log
// buffer, encoded on disk as a self-closing XML-like tag.
type LogCommand struct {
	Verb  Verb
	Attrs map[string]string
}

func newCommand(v Verb, attrs map[string]string) LogCommand {
	return LogCommand{Verb: v, Attrs: attrs}
}

// LogBuffer accumulates commands for one directory between open and
// flush. Nothing in install_file or close_directory mutates the working
// copy directly — everything goes through this buffer first.
type LogBuffer struct {
	dir      string
	commands []LogCommand
}

func newLogBuffer(dir string) *LogBuffer {
	return &LogBuffer{dir: dir}
}

func (b *LogBuffer) append(v Verb, attrs map[string]string) {
	b.commands = append(b.commands, newCommand(v, attrs))
}

func (b *LogBuffer) Empty() bool { return len(b.commands) == 0 }

// logFilePath returns the well-known location of a directory's log file.
// It exists on disk only between Flush and a successful Run.
func logFilePath(adminDirName, dirPath string) string {
	return filepath.Join(dirPath, adminDirName, "log")
}

// tempSuffix returns a short unique string used to name temp text-bases
// and other staging files in the admin tmp area, so two edits touching
// the same directory (one resumed after a crash, one fresh) never collide.
func tempSuffix() string {
	return uuid.New().String()[:8]
}

type xmlLog struct {
	XMLName xml.Name     `xml:"log"`
	Entries []xmlCommand `xml:",any"`
}

type xmlCommand struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
}

// formatLog renders commands as the on-disk log format: a sequence of
// self-closing tags, one per command, wrapped in a <log> root so the
// result parses as well-formed XML.
func formatLog(commands []LogCommand) []byte {
	var buf bytes.Buffer
	buf.WriteString("<log>\n")
	for _, c := range commands {
		buf.WriteString("  <")
		buf.WriteString(string(c.Verb))
		names := make([]string, 0, len(c.Attrs))
		for k := range c.Attrs {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			buf.WriteByte(' ')
			buf.WriteString(k)
			buf.WriteString(`="`)
			xml.EscapeText(&buf, []byte(c.Attrs[k]))
			buf.WriteByte('"')
		}
		buf.WriteString("/>\n")
	}
	buf.WriteString("</log>\n")
	return buf.Bytes()
}

// parseLog reads back a log file written by formatLog.
func parseLog(data []byte) ([]LogCommand, error) {
	var doc xmlLog
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("wc: parsing log: %w", err)
	}
	cmds := make([]LogCommand, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		attrs := make(map[string]string, len(e.Attrs))
		for _, a := range e.Attrs {
			attrs[a.Name.Local] = a.Value
		}
		cmds = append(cmds, LogCommand{Verb: Verb(e.XMLName.Local), Attrs: attrs})
	}
	return cmds, nil
}

// flushLog writes commands to dirPath's log file, creating the admin area
// if needed. The file is removed only by a successful runLog.
func flushLog(adminDirName, dirPath string, commands []LogCommand) error {
	if len(commands) == 0 {
		return nil
	}
	admDir := filepath.Join(dirPath, adminDirName)
	if err := os.MkdirAll(admDir, 0755); err != nil {
		return fmt.Errorf("wc: creating admin dir: %w", err)
	}
	return os.WriteFile(logFilePath(adminDirName, dirPath), formatLog(commands), 0644)
}
