package protocol

import (
	"encoding/json"
	"fmt"
	"io/fs"
)

// Well-known names shared by both ends of a session.
const (
	// DefaultScheme is the URI scheme the guest registers its provider for.
	DefaultScheme = "vslsfs"
	// DefaultSessionScheme is the scheme the session's address translation
	// accepts.
	DefaultSessionScheme = "vsls"
	// DefaultServiceName is the name the host shares its service under.
	DefaultServiceName = "vslsfs"
	// NotificationChange is the notification carrying ChangeNotification.
	NotificationChange = "change"
)

// Op names a filesystem operation.
type Op string

// Operations served by the host.
const (
	OpCopy            Op = "copy"
	OpCreateDirectory Op = "createDirectory"
	OpDelete          Op = "delete"
	OpReadFile        Op = "readFile"
	OpReadDirectory   Op = "readDirectory"
	OpRename          Op = "rename"
	OpStat            Op = "stat"
	OpWatch           Op = "watch"
	OpWriteFile       Op = "writeFile"
)

// Ops returns every operation in a stable order.
func Ops() []Op {
	return []Op{
		OpCopy, OpCreateDirectory, OpDelete, OpReadFile, OpReadDirectory,
		OpRename, OpStat, OpWatch, OpWriteFile,
	}
}

// Valid reports whether o is a known operation.
func (o Op) Valid() bool {
	for _, op := range Ops() {
		if o == op {
			return true
		}
	}
	return false
}

// FileType is a bit set describing a directory entry. The values match the
// editor's file type numbering.
type FileType int

// File types. Symbolic links combine FileTypeSymbolicLink with the type of
// their target.
const (
	FileTypeUnknown      FileType = 0
	FileTypeFile         FileType = 1
	FileTypeDirectory    FileType = 2
	FileTypeSymbolicLink FileType = 64
)

// FileTypeFromMode maps storage mode bits to a FileType.
func FileTypeFromMode(mode fs.FileMode, symlink bool) FileType {
	var t FileType
	switch {
	case mode.IsDir():
		t = FileTypeDirectory
	case mode.IsRegular():
		t = FileTypeFile
	}
	if symlink {
		t |= FileTypeSymbolicLink
	}
	return t
}

// IsDirectory reports whether the directory bit is set.
func (t FileType) IsDirectory() bool { return t&FileTypeDirectory != 0 }

// IsFile reports whether the file bit is set.
func (t FileType) IsFile() bool { return t&FileTypeFile != 0 }

// IsSymbolicLink reports whether the symbolic link bit is set.
func (t FileType) IsSymbolicLink() bool { return t&FileTypeSymbolicLink != 0 }

// ChangeType is the kind of change a notification reports.
type ChangeType int

// Change types, numbered like the editor's file change types.
const (
	ChangeChanged ChangeType = 1
	ChangeCreated ChangeType = 2
	ChangeDeleted ChangeType = 3
)

// String returns a string representation of the ChangeType.
func (c ChangeType) String() string {
	switch c {
	case ChangeChanged:
		return "changed"
	case ChangeCreated:
		return "created"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Valid reports whether c is a known change type.
func (c ChangeType) Valid() bool {
	return c >= ChangeChanged && c <= ChangeDeleted
}

// FileStat is the result of stat. Times are milliseconds since the Unix
// epoch.
type FileStat struct {
	Type  FileType `json:"type"`
	Ctime int64    `json:"ctime"`
	Mtime int64    `json:"mtime"`
	Size  int64    `json:"size"`
}

// DirEntry is one element of a readDirectory result. It travels as the
// two-element array [name, type].
type DirEntry struct {
	Name string
	Type FileType
}

// MarshalJSON encodes the entry as [name, type].
func (e DirEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Name, e.Type})
}

// UnmarshalJSON decodes an entry from [name, type].
func (e *DirEntry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("directory entry: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("directory entry: expected 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.Name); err != nil {
		return fmt.Errorf("directory entry name: %w", err)
	}
	if err := json.Unmarshal(pair[1], &e.Type); err != nil {
		return fmt.Errorf("directory entry type: %w", err)
	}
	return nil
}

// ChangeNotification is pushed by the host when a watched path changes.
type ChangeNotification struct {
	URI  string     `json:"uri"`
	Type ChangeType `json:"type"`
}

// Bool returns a pointer to b, for option fields.
func Bool(b bool) *bool {
	return &b
}

// BoolOr returns *p, or def when p is nil.
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// CopyOptions are the options of copy.
type CopyOptions struct {
	Overwrite *bool `json:"overwrite,omitempty"`
}

// DeleteOptions are the options of delete.
type DeleteOptions struct {
	Recursive *bool `json:"recursive,omitempty"`
	UseTrash  *bool `json:"useTrash,omitempty"`
}

// RenameOptions are the options of rename.
type RenameOptions struct {
	Overwrite *bool `json:"overwrite,omitempty"`
}

// WriteFileOptions are the options of writeFile.
type WriteFileOptions struct {
	Create    *bool `json:"create,omitempty"`
	Overwrite *bool `json:"overwrite,omitempty"`
}

// WatchOptions are the options of watch. Excludes are glob patterns
// relative to the watched path.
type WatchOptions struct {
	Recursive bool     `json:"recursive,omitempty"`
	Excludes  []string `json:"excludes,omitempty"`
}
