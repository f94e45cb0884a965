package thumbs

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// Key is the content fingerprint of one generated thumbnail:
// md5(absolute path | mtime | requested width). A changed mtime yields
// a new key, which implicitly orphans the old entry — it is simply
// never looked up again.
type Key string

// Fingerprint derives the cache key for a source file at a width.
func Fingerprint(path string, mtime time.Time, width int) Key {
	sum := md5.Sum([]byte(fmt.Sprintf("%s|%d|%d", path, mtime.UnixNano(), width)))
	return Key(hex.EncodeToString(sum[:]))
}

// shard returns the two-character subdirectory for a key, keeping any
// single cache directory from accumulating millions of files.
func (k Key) shard() string {
	if len(k) < 2 {
		return "00"
	}
	return string(k[:2])
}

// filename is the on-disk name of the cached bitmap.
func (k Key) filename() string {
	return string(k) + ".png"
}
