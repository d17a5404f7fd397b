//go:build profile

package prof

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"
)

// Profiling errors.
var (
	// ErrSessionActive indicates a capture session is already running.
	ErrSessionActive = errors.New("profile session already active")

	// ErrSessionInactive indicates no capture session is running.
	ErrSessionInactive = errors.New("profile session not active")

	// ErrInvalidProfile indicates an unknown snapshot profile.
	ErrInvalidProfile = errors.New("invalid profile")
)

// Enabled reports whether the binary was built with the "profile" tag.
const Enabled = true

var (
	sessionMutex sync.Mutex
	session      *Session
)

// Session captures a CPU profile for the life of a link and writes
// snapshot profiles into its directory when it ends.
type Session struct {
	dir       string
	cpu       *os.File
	snapshots []Profile
}

// Begin starts CPU profiling into dir/cpu.prof. Snapshots named in
// snapshots are written to dir/<name>.prof by [Session.End].
func Begin(dir string, snapshots ...Profile) (*Session, error) {
	sessionMutex.Lock()
	defer sessionMutex.Unlock()

	if session != nil {
		return nil, ErrSessionActive
	}
	for _, p := range snapshots {
		if !p.snapshot() {
			return nil, ErrInvalidProfile
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(dir, ProfileCPU.file()))
	if err != nil {
		return nil, err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, err
	}

	for _, p := range snapshots {
		switch p {
		case ProfileBlock:
			runtime.SetBlockProfileRate(1)
		case ProfileMutex:
			runtime.SetMutexProfileFraction(1)
		}
	}

	session = &Session{dir: dir, cpu: f, snapshots: snapshots}
	return session, nil
}

// End stops CPU profiling and writes the requested snapshots. The first
// error encountered is returned after every file has been attempted.
func (s *Session) End() error {
	sessionMutex.Lock()
	defer sessionMutex.Unlock()

	if s == nil || session != s {
		return ErrSessionInactive
	}
	session = nil

	pprof.StopCPUProfile()
	err := s.cpu.Close()

	for _, p := range s.snapshots {
		if werr := writeFile(p, filepath.Join(s.dir, p.file())); werr != nil && err == nil {
			err = werr
		}
		switch p {
		case ProfileBlock:
			runtime.SetBlockProfileRate(0)
		case ProfileMutex:
			runtime.SetMutexProfileFraction(0)
		}
	}
	return err
}

// Dir returns the directory the session writes into.
func (s *Session) Dir() string {
	return s.dir
}

// Snapshot writes a point-in-time profile to w in protobuf format.
func Snapshot(p Profile, w io.Writer) error {
	if !p.snapshot() {
		return ErrInvalidProfile
	}
	return pprof.Lookup(string(p)).WriteTo(w, 0)
}

func writeFile(p Profile, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Snapshot(p, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
