// Package updater drives a firmware update over the INGChips FOTA GATT service.
//
// # Overview
//
// An Updater owns one connection to one device. It runs in two steps:
//   - Prepare bootstraps the session: connect, negotiate the MTU, discover the
//     FOTA characteristics, exchange session keys when the device is secure and
//     read the current product version
//   - Update (or Run, its asynchronous form) burns a plan page by page,
//     commits the metadata, reboots the device if the plan asks for it and
//     disconnects
//
// # Basic Usage
//
//	conn := ble.New(ble.Config{Address: "C0:12:34:56:78:9A"})
//
//	up := updater.New(conn,
//	    updater.WithStatusCallback(func(msg string) { fmt.Println(msg) }),
//	)
//
//	ver, err := up.Prepare(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	p := plan.FromPackage(pkg, *ver)
//	if err := plan.MakeFlashProcedure(p, plan.ING918xx, 0); err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := up.Update(ctx, p); err != nil {
//	    log.Fatal(err)
//	}
//
// # Secure FOTA
//
// Devices exposing the public-key characteristic only accept session keys
// signed by a root key they trust. Provide it with WithRootKey:
//
//	root, _ := secure.LoadPrivateKeyFile("root.pem")
//	up := updater.New(conn, updater.WithRootKey(root))
//
// Pages and metadata are then signed with the session key and encrypted. The
// variant is selected at bootstrap and reported through WithSecureModeCallback.
//
// # Progress Tracking
//
//	up := updater.New(conn,
//	    updater.WithProgressCallback(func(p updater.Progress) {
//	        fmt.Printf("[%s] %.1f%% %s\n", p.Phase, p.Percentage, p.Item)
//	    }),
//	)
//
// Progress advances after every chunk written. A failed page attempt rolls it
// back to where the page started before the page is retried.
//
// # Cancellation
//
// Every call takes a context. Abort may be called from any goroutine: it
// closes the connection at once and the running call returns ErrAborted.
//
// # Error Handling
//
// The package provides structured error types:
//   - TransportError: connect, discovery or a GATT operation failed
//   - CharacteristicMissingError: the FOTA service is incomplete
//   - HandshakeError: the secure session could not be established
//   - StartError: the device refused to enter FOTA mode
//   - PageError: a page failed on every attempt
//   - MetadataError: the metadata commit was rejected
package updater
