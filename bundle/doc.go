// Package bundle loads INGChips update packages.
//
// An update package is a zip archive holding a manifest.json, the platform and
// app binaries it names, any extra binaries and an optional readme:
//
//	{
//	  "platform": {"name": "platform.bin", "address": 16384, "version": [1, 2, 0]},
//	  "app":      {"name": "app.bin", "address": 163840, "version": [1, 0, 3]},
//	  "entry":    16384,
//	  "bins":     [{"name": "res.bin", "address": 393216}]
//	}
//
// # Basic Usage
//
//	pkg, err := bundle.Open("update.zip")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(pkg.Version, pkg.Readme)
//
// Packages published on an update server are fetched with Download, which
// resolves <server>/latest.json first. A package may carry a release.note
// entry, a signed note committing to the SHA-256 of every artifact; see
// VerifyRelease.
package bundle
