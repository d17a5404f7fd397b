package prof

// Profile names a pprof profile.
type Profile string

// Profiles available to a [Session].
const (
	ProfileCPU       Profile = "cpu"
	ProfileHeap      Profile = "heap"
	ProfileAllocs    Profile = "allocs"
	ProfileGoroutine Profile = "goroutine"
	ProfileBlock     Profile = "block"
	ProfileMutex     Profile = "mutex"
)

// String returns the pprof name of the profile.
func (p Profile) String() string {
	return string(p)
}

// ParseProfiles maps names to profiles, skipping any it does not know.
func ParseProfiles(names ...string) []Profile {
	var out []Profile
	for _, n := range names {
		p := Profile(n)
		if p.snapshot() {
			out = append(out, p)
		}
	}
	return out
}

// snapshot reports whether p is captured at a single point in time.
func (p Profile) snapshot() bool {
	switch p {
	case ProfileHeap, ProfileAllocs, ProfileGoroutine, ProfileBlock, ProfileMutex:
		return true
	}
	return false
}

func (p Profile) file() string {
	return string(p) + ".prof"
}
