// Package prof captures pprof profiles around a link session.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go build -tags profile
//
// Without the tag every function is a no-op and [Enabled] is false, so
// callers may leave profiling hooks in place.
//
// A [Session] streams a CPU profile for as long as it runs and writes the
// requested snapshot profiles when it ends:
//
//	s, err := prof.Begin("profiles", prof.ProfileHeap, prof.ProfileGoroutine)
//	if err != nil {
//	    return err
//	}
//	defer s.End()
//
// Only one session may run at a time; [Begin] returns [ErrSessionActive]
// otherwise. Block and mutex profiling are switched on for the session
// when those snapshots are requested.
package prof
