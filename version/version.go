// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package version records the daemon version reported to peers and the
// command line.
package version

import "fmt"

const (
	// AppMajor defines the major version of the application.
	AppMajor uint = 0

	// AppMinor defines the minor version of the application.
	AppMinor uint = 1

	// AppPatch defines the application patch for use by external services.
	AppPatch uint = 0
)

// appPreRelease contains the prerelease name of the application.  It is a
// variable so it can be modified at link time.
var appPreRelease = "beta"

// String returns the application version as a properly formed string per the
// semantic versioning 2.0.0 spec (http://semver.org/).
func String() string {
	version := fmt.Sprintf("%d.%d.%d", AppMajor, AppMinor, AppPatch)
	if appPreRelease != "" {
		version = fmt.Sprintf("%s-%s", version, appPreRelease)
	}
	return version
}
