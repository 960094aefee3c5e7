/*
Package adb is a Go package for interoperation with the Android Debug Bridge (adb).

The client/server spec is defined at https://android.googlesource.com/platform/system/core/+/master/adb/OVERVIEW.TXT.

A Client starts or attaches to the adb server, lists devices and talks to a
device through the server:

	client := adb.New(adb.WithTimeout(5 * time.Second))
	if _, err := client.StartServer(ctx, adb.DefaultExecutableName, false); err != nil {
		return err
	}
	devices, err := client.GetDevices(ctx)

Every operation dials its own connection, so a Client may be shared between
goroutines. The framing and the connection state machine live in package
wire.

Errors are *Err values; use HasErrCode to tell them apart.
*/
package adb
