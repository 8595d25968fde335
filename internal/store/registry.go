package store

import (
	"context"
	"fmt"
)

// PutDriverRouter publishes driver's fabric router endpoint address,
// called once the driver's router has bound a listener.
func (db *DB) PutDriverRouter(ctx context.Context, driver, addr string) error {
	return db.Put(ctx, KeyDriverRouter(driver), []byte(addr))
}

// GetDriverRouter returns the published router address for driver, if
// any.
func (db *DB) GetDriverRouter(ctx context.Context, driver string) (string, bool, error) {
	raw, ok, err := db.Get(ctx, KeyDriverRouter(driver))
	if err != nil || !ok {
		return "", ok, err
	}

	return string(raw), true, nil
}

// KeyDriverCursor is the persisted poll-with-cursor bookmark for driver,
// letting a restarted poll-based driver resume instead of re-scanning
// the whole backend.
func KeyDriverCursor(driver string) string {
	return "drivers:" + driver + ":cursor"
}

// PutDriverCursor persists driver's latest poll cursor.
func (db *DB) PutDriverCursor(ctx context.Context, driver string, cursor []byte) error {
	return db.Put(ctx, KeyDriverCursor(driver), cursor)
}

// GetDriverCursor returns driver's persisted poll cursor, if any.
func (db *DB) GetDriverCursor(ctx context.Context, driver string) ([]byte, error) {
	raw, ok, err := db.Get(ctx, KeyDriverCursor(driver))
	if err != nil || !ok {
		return nil, err
	}

	return raw, nil
}

// PutDriverCommandAddr publishes driver's command endpoint address,
// called once the driver's transfer-apply CommandServer has bound a
// listener.
func (db *DB) PutDriverCommandAddr(ctx context.Context, driver, addr string) error {
	return db.Put(ctx, KeyDriverCommand(driver), []byte(addr))
}

// GetDriverCommandAddr returns the published command endpoint address
// for driver, if any.
func (db *DB) GetDriverCommandAddr(ctx context.Context, driver string) (string, bool, error) {
	raw, ok, err := db.Get(ctx, KeyDriverCommand(driver))
	if err != nil || !ok {
		return "", ok, err
	}

	return string(raw), true, nil
}

// KeyRefereeAddr is the well-known key under which the referee publishes
// its CommandServer endpoint, so drivers can discover where to send
// TRANSFER_COMPLETE/DELETE notifications without a side-channel config
// value.
const KeyRefereeAddr = "referee:addr"

// PutRefereeAddr publishes the referee's bound CommandServer address.
func (db *DB) PutRefereeAddr(ctx context.Context, addr string) error {
	return db.Put(ctx, KeyRefereeAddr, []byte(addr))
}

// GetRefereeAddr returns the referee's published CommandServer address,
// if any.
func (db *DB) GetRefereeAddr(ctx context.Context) (string, bool, error) {
	raw, ok, err := db.Get(ctx, KeyRefereeAddr)
	if err != nil || !ok {
		return "", ok, err
	}

	return string(raw), true, nil
}

// DriverRouter pairs a driver name with its published router address.
type DriverRouter struct {
	Driver string
	Addr   string
}

// ListDriverRouters returns every published driver router endpoint,
// used by the referee and broker to discover peers to dial.
func (db *DB) ListDriverRouters(ctx context.Context) ([]DriverRouter, error) {
	pairs, err := db.Collect(ctx, PrefixDriverRouter, true)
	if err != nil {
		return nil, fmt.Errorf("store: listing driver routers: %w", err)
	}

	out := make([]DriverRouter, 0, len(pairs))

	for _, p := range pairs {
		driver := p.Key[len(PrefixDriverRouter):]
		const suffix = ":router"

		if len(driver) <= len(suffix) || driver[len(driver)-len(suffix):] != suffix {
			continue
		}

		driver = driver[:len(driver)-len(suffix)]
		out = append(out, DriverRouter{Driver: driver, Addr: string(p.Value)})
	}

	return out, nil
}
