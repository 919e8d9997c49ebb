// Package persist implements the Session Control Core's on-disk identity
// and resume persistence (spec.md §3 "ServerData", §7 "Persistence"). Writes
// are atomic: encode to a temp file in the same directory, fsync, then
// rename over the target, so a crash mid-write never leaves a torn file —
// the scheme spec.md §9's Open Question asked for in place of the original's
// nested silent-success path.
package persist

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/aereaux/synapse/internal/logger"
	"github.com/aereaux/synapse/internal/util"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

var log = logger.New("persist")

// ErrPersistFailed wraps any failure in Save, so callers can log once rather
// than leaking raw os/gob errors up through the control loop.
var ErrPersistFailed = errors.New("persist: save failed")

const serverDataFile = "syn_data"

// ServerData is the session's persisted identity and cumulative counters
// (spec.md §3). ID seeds every torrent's outbound BitTorrent peer id; UL/DL
// are the all-time cumulative byte counts. sessionUL/sessionDL track bytes
// transferred since this process started; they are unexported so gob never
// encodes them, giving "reset to zero each process start" for free instead
// of needing an explicit reset on load.
type ServerData struct {
	Version int
	ID      string
	UL      int64
	DL      int64

	sessionUL int64
	sessionDL int64
}

// AddTransferred accumulates up/down bytes into both the all-time and the
// this-process-only counters, as the throttler-refresh timer tick does on
// each of its ticks (spec.md §4.4's "throttler-refresh: accumulate
// counters").
func (d *ServerData) AddTransferred(up, down int64) {
	d.UL += up
	d.DL += down
	d.sessionUL += up
	d.sessionDL += down
}

// SessionUL returns bytes uploaded since this process started.
func (d *ServerData) SessionUL() int64 { return d.sessionUL }

// SessionDL returns bytes downloaded since this process started.
func (d *ServerData) SessionDL() int64 { return d.sessionDL }

const currentVersion = 1

// New returns a fresh ServerData with a newly generated session id, the same
// shape the teacher's config.go generates a random peer id prefix for.
func New() *ServerData {
	return &ServerData{
		Version: currentVersion,
		ID:      util.RandomString(15),
	}
}

// Save atomically persists data under dir.
func Save(dir string, data *ServerData) error {
	return atomicWrite(filepath.Join(dir, serverDataFile), data)
}

// Load reads the ServerData previously Saved under dir. Returns
// os.ErrNotExist if no data has ever been saved there.
func Load(dir string) (*ServerData, error) {
	f, err := os.Open(filepath.Join(dir, serverDataFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var data ServerData
	if err := gob.NewDecoder(f).Decode(&data); err != nil {
		return nil, errors.Wrap(err, "persist: decode server data")
	}
	return &data, nil
}

// SaveResume atomically persists a torrent's resume blob under dir, keyed by
// its 40-hex content hash filename (spec.md §7).
func SaveResume(dir, hexHash string, blob []byte) error {
	return atomicWriteBytes(filepath.Join(dir, hexHash), blob)
}

// LoadResume reads a previously saved resume blob.
func LoadResume(dir, hexHash string) ([]byte, error) {
	return os.ReadFile(filepath.Join(dir, hexHash))
}

func atomicWrite(path string, data *ServerData) error {
	tmp := tempPath(path)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		log.Errorf("persist: open temp file failed: %s", err)
		return errors.Wrap(ErrPersistFailed, err.Error())
	}
	if err := gob.NewEncoder(f).Encode(data); err != nil {
		f.Close()
		os.Remove(tmp)
		log.Errorf("persist: encode failed: %s", err)
		return errors.Wrap(ErrPersistFailed, err.Error())
	}
	return finishAtomicWrite(f, tmp, path)
}

func atomicWriteBytes(path string, blob []byte) error {
	tmp := tempPath(path)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		log.Errorf("persist: open temp file failed: %s", err)
		return errors.Wrap(ErrPersistFailed, err.Error())
	}
	if _, err := f.Write(blob); err != nil {
		f.Close()
		os.Remove(tmp)
		log.Errorf("persist: write failed: %s", err)
		return errors.Wrap(ErrPersistFailed, err.Error())
	}
	return finishAtomicWrite(f, tmp, path)
}

func finishAtomicWrite(f *os.File, tmp, path string) error {
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		log.Errorf("persist: fsync failed: %s", err)
		return errors.Wrap(ErrPersistFailed, err.Error())
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		log.Errorf("persist: close failed: %s", err)
		return errors.Wrap(ErrPersistFailed, err.Error())
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		log.Errorf("persist: rename failed: %s", err)
		return errors.Wrap(ErrPersistFailed, err.Error())
	}
	return nil
}

func tempPath(path string) string {
	return path + "." + uuid.NewV4().String() + ".tmp"
}
