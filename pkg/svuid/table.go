// Package svuid keeps a table of serialVersionUIDs for classes that are not
// available locally, so that proxies can patch them into class descriptors
// returned by a target.
package svuid

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	rtshare "github.com/sammck-go/rmitap/share"
)

// defaultUIDs are stub classes known to differ from commonly deployed versions
var defaultUIDs = map[string]int64{
	"org.springframework.remoting.rmi.RmiInvocationWrapper_Stub": 2,
	"org.springframework.remoting.support.RemoteInvocation":      6876024250231820554,
	"axiomsl.server.rmi.FileInformation":                         -1757023938083597173,
}

// Table maps class names to serialVersionUIDs. It is safe for concurrent use and
// satisfies jrmp.UIDLookup.
type Table struct {
	lock sync.RWMutex
	uids map[string]int64
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{uids: make(map[string]int64)}
}

// Default returns a table seeded with the built-in entries
func Default() *Table {
	t := NewTable()
	t.Merge(defaultUIDs)
	return t
}

// LookupUID returns the serialVersionUID recorded for className
func (t *Table) LookupUID(className string) (int64, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	uid, ok := t.uids[className]
	return uid, ok
}

// Set records a single entry
func (t *Table) Set(className string, uid int64) {
	t.lock.Lock()
	t.uids[className] = uid
	t.lock.Unlock()
}

// Merge records every entry of uids, replacing existing ones
func (t *Table) Merge(uids map[string]int64) {
	t.lock.Lock()
	for k, v := range uids {
		t.uids[k] = v
	}
	t.lock.Unlock()
}

// Len returns the number of entries
func (t *Table) Len() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return len(t.uids)
}

type tableFile struct {
	Classes map[string]int64 `yaml:"classes"`
}

// ParseYAML decodes a table file of the form
//
//	classes:
//	  com.example.Foo: -1234
func ParseYAML(data []byte) (map[string]int64, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid serialVersionUID table: %w", err)
	}
	return f.Classes, nil
}

// LoadFile merges the entries of a yaml table file into t
func (t *Table) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	uids, err := ParseYAML(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	t.Merge(uids)
	return nil
}

// Watch reloads path whenever it is written, until ctx is done. Entries removed
// from the file stay in the table. The directory is watched so that editors that
// replace the file are handled.
func (t *Table) Watch(ctx context.Context, logger rtshare.Logger, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}
	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := t.LoadFile(path); err != nil {
					logger.WLogf("Reload of serialVersionUID table failed: %s", err)
					continue
				}
				logger.ILogf("Reloaded serialVersionUID table from %s (%d entries)", path, t.Len())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WLogf("serialVersionUID table watch error: %s", err)
			}
		}
	}()
	return nil
}
