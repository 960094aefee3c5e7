// An app demonstrating most of the library's features.
package adb_test

import (
	"context"
	"fmt"
	"time"

	"github.com/d1ced/adbclient"
)

func Example() {
	ctx := context.Background()

	client, err := adb.NewDefault(ctx)
	if err != nil {
		fmt.Println(err)
		return
	}

	status, _ := client.GetStatus(ctx)
	fmt.Println("Server version:", status.Version)

	devices, _ := client.GetDevices(ctx)

	fmt.Println("Devices:")
	for _, device := range devices {
		fmt.Println(device)
	}

	fmt.Println("Watching for device state changes.")
	watchCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	watcher, err := client.WatchDevices(watchCtx)
	if err != nil {
		panic(err)
	}

	for event := range watcher.C() {
		fmt.Printf("\t[%s]%+v\n", time.Now(), event)
	}
	if err = watcher.Err(); err != nil {
		fmt.Println(err)
	}

	client.KillServer(ctx)
}
