// Package transport defines the GATT client boundary used by the updater.
//
// Conn is the sequential API the updater drives: every call issues one GATT
// request and returns when its completion arrives, the context is done or the
// connection is closed.
//
// Many BLE stacks expose a callback API instead (request now, completion event
// later). Driver describes that shape, and Link adapts any Driver into a Conn:
//
//	link := transport.NewLink(driver)
//	if err := link.Connect(ctx); err != nil {
//	    return err
//	}
//	value, err := link.Read(ctx, protocol.VersionCharUUID)
//
// Sub-packages provide implementations: ble (tinygo.org/x/bluetooth) and sim
// (an in-memory FOTA device for tests and dry runs).
package transport
