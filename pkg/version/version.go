// Package version carries the host version and the comparison used to
// enforce a skill manifest's minimum-host-version requirement.
package version

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Version is the current host version, set during the build from VERSION.txt.
var Version = "dev"

// GitCommit is the git commit SHA that was built, set during the build.
var GitCommit = "unknown"

// Info represents version information.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
}

// Get returns the version information.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
	}
}

// String returns the string representation of version info.
func (i Info) String() string {
	return fmt.Sprintf("Version: %s, GitCommit: %s", i.Version, i.GitCommit)
}

// JSON returns the JSON representation of version info.
func (i Info) JSON() (string, error) {
	bytes, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// AtLeast reports whether the running host satisfies the required minimum
// version. Development builds and empty requirements always satisfy.
func AtLeast(required string) bool {
	return Compare(Version, required) >= 0
}

// Compare compares two dotted numeric versions, returning -1, 0, or 1.
// Non-numeric segments ("dev", release suffixes) compare as unbounded, so a
// dev build satisfies every requirement.
func Compare(a, b string) int {
	as := segments(a)
	bs := segments(b)

	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := segmentAt(as, i), segmentAt(bs, i)
		if av != bv {
			if av > bv {
				return 1
			}
			return -1
		}
	}
	return 0
}

func segments(v string) []int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if i := strings.IndexAny(p, "-+"); i >= 0 {
			p = p[:i]
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			// "dev" and similar sort above every numeric release.
			return []int{int(^uint(0) >> 1)}
		}
		out = append(out, n)
	}
	return out
}

func segmentAt(s []int, i int) int {
	if i < len(s) {
		return s[i]
	}
	return 0
}
