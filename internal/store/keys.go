package store

import "github.com/MontBlanc-69/onitu/internal/fid"

// Key namespaces, ":" is the hierarchical separator.
const (
	prefixFile     = "file:"
	prefixServices = "services"
	prefixRules    = "rules"
)

// KeyFile is the file record key for fid.
func KeyFile(f fid.ID) string {
	return prefixFile + f.String()
}

// KeyEntry is the per-driver extras key for (fid, driver).
func KeyEntry(f fid.ID, driver string) string {
	return prefixFile + f.String() + ":entry:" + driver
}

// KeyUptodateIndex is the uptodate-index key for (fid, driver).
func KeyUptodateIndex(f fid.ID, driver string) string {
	return prefixFile + f.String() + ":uptodate:" + driver
}

// PrefixUptodateIndex returns the scan prefix for every driver holding fid.
func PrefixUptodateIndex(f fid.ID) string {
	return prefixFile + f.String() + ":uptodate:"
}

// PrefixFiles is the scan prefix covering every file record. It also
// covers each record's extras and uptodate-index entries (keys of the
// form "file:{fid}:..."), so scans over it must skip those keys.
const PrefixFiles = prefixFile

// KeyCursor is the driver cursor key.
func KeyCursor(driver string) string {
	return driver + ":cursor"
}

// KeyConflict is the conflict-map entry key for (driver, localName).
func KeyConflict(driver, localName string) string {
	return driver + ":conflict:" + localName
}

// PrefixConflict returns the scan prefix for every conflict entry of driver.
func PrefixConflict(driver string) string {
	return driver + ":conflict:"
}

// KeyDriverRouter is the key a driver publishes its router endpoint
// address under, ("publishes drivers:{name}:router
// -> port").
func KeyDriverRouter(driver string) string {
	return "drivers:" + driver + ":router"
}

// PrefixDriverRouter is the scan prefix covering every published driver
// router endpoint.
const PrefixDriverRouter = "drivers:"

// KeyDriverCommand is the key a driver publishes its command endpoint
// address under (the TRANSFER/apply side, distinct from the chunk
// router published under KeyDriverRouter).
func KeyDriverCommand(driver string) string {
	return "drivers:" + driver + ":cmd"
}

// KeyServices is the services configuration snapshot key.
const KeyServices = prefixServices

// KeyRules is the routing rules snapshot key.
const KeyRules = prefixRules
